package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"

	"github.com/yourusername/dossier-forge/internal/accounts"
	"github.com/yourusername/dossier-forge/internal/config"
)

const (
	paymentKeyPrefix      = "payment:"
	userPaymentsKeyPrefix = "user_payments:"
)

// Tier はクレジット購入プランです。
type Tier struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Credits     int    `json:"credits"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

// Tiers は販売中のプラン一覧です。
var Tiers = []Tier{
	{ID: "starter", Label: "Starter Pack", Credits: 5, AmountCents: 500, Currency: "usd"},
	{ID: "research", Label: "Research Pack", Credits: 20, AmountCents: 1500, Currency: "usd"},
	{ID: "agency", Label: "Agency Pack", Credits: 60, AmountCents: 3500, Currency: "usd"},
}

// TierByID はプランを検索します。
func TierByID(id string) *Tier {
	for i := range Tiers {
		if Tiers[i].ID == id {
			return &Tiers[i]
		}
	}
	return nil
}

// Payment は完了した決済の記録です。
type Payment struct {
	ID          string    `json:"id"` // Stripeのセッション ID
	UserID      string    `json:"userId"`
	TierID      string    `json:"tierId"`
	Credits     int       `json:"credits"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completedAt"`
}

// Service はStripe決済とクレジット付与を担います。
type Service struct {
	cfg    *config.Config
	users  *accounts.Store
	rdb    *redis.Client
	logger *log.Logger

	// テストでStripe呼び出しを差し替えるためのフック
	createSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewService は Service を初期化し、StripeのAPIキーを設定します。
func NewService(cfg *config.Config, users *accounts.Store, rdb *redis.Client, logger *log.Logger) *Service {
	stripe.Key = cfg.StripeSecretKey
	return &Service{
		cfg:           cfg,
		users:         users,
		rdb:           rdb,
		logger:        logger,
		createSession: session.New,
	}
}

// CreateCheckout は指定プランのStripe Checkoutセッションを作成し、
// 決済ページのURLを返します。
func (s *Service) CreateCheckout(ctx context.Context, userID, tierID string) (string, error) {
	tier := TierByID(tierID)
	if tier == nil {
		return "", fmt.Errorf("unknown tier: %s", tierID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(tier.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%s (%d credits)", tier.Label, tier.Credits)),
					},
					UnitAmount: stripe.Int64(tier.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.FrontendURL + "/billing?status=success"),
		CancelURL:  stripe.String(s.cfg.FrontendURL + "/billing?status=cancelled"),
	}
	params.AddMetadata("userId", userID)
	params.AddMetadata("tierId", tier.ID)
	params.AddMetadata("credits", fmt.Sprintf("%d", tier.Credits))

	sess, err := s.createSession(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// FulfillCheckout は完了したCheckoutセッションに対してクレジットを
// 付与します。同じセッションが二度届いても付与は一度だけです。
func (s *Service) FulfillCheckout(ctx context.Context, sess *stripe.CheckoutSession) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("checkout session is empty")
	}

	userID := sess.Metadata["userId"]
	tierID := sess.Metadata["tierId"]
	tier := TierByID(tierID)
	if userID == "" || tier == nil {
		return fmt.Errorf("checkout session %s missing metadata", sess.ID)
	}

	payment := &Payment{
		ID:          sess.ID,
		UserID:      userID,
		TierID:      tier.ID,
		Credits:     tier.Credits,
		AmountCents: tier.AmountCents,
		Currency:    tier.Currency,
		CompletedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(payment)
	if err != nil {
		return err
	}

	// SETNXが冪等性の要。二重配送のwebhookは2回目で弾かれる。
	claimed, err := s.rdb.SetNX(ctx, paymentKeyPrefix+sess.ID, payload, 0).Result()
	if err != nil {
		return err
	}
	if !claimed {
		if s.logger != nil {
			s.logger.Printf("checkout session %s already fulfilled, skipping", sess.ID)
		}
		return nil
	}

	if _, err := s.users.Credit(ctx, userID, tier.Credits); err != nil {
		// 付与に失敗したら記録を消して再配送で再試行できるようにする
		_ = s.rdb.Del(ctx, paymentKeyPrefix+sess.ID).Err()
		return fmt.Errorf("failed to grant credits user=%s: %w", userID, err)
	}

	if err := s.rdb.ZAdd(ctx, userPaymentsKeyPrefix+userID, redis.Z{
		Score:  float64(payment.CompletedAt.UnixMilli()),
		Member: sess.ID,
	}).Err(); err != nil && s.logger != nil {
		s.logger.Printf("failed to index payment %s: %v", sess.ID, err)
	}
	return nil
}

// History はユーザーの決済履歴を新しい順に返します。
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, userPaymentsKeyPrefix+userID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	history := make([]*Payment, 0, len(ids))
	for _, id := range ids {
		data, err := s.rdb.Get(ctx, paymentKeyPrefix+id).Bytes()
		if err != nil {
			continue
		}
		var payment Payment
		if err := json.Unmarshal(data, &payment); err != nil {
			continue
		}
		history = append(history, &payment)
	}
	return history, nil
}

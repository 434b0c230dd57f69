package payments

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/yourusername/dossier-forge/internal/auth"
)

const webhookMaxBodyBytes = 65536

type checkoutRequest struct {
	TierID string `json:"tierId" binding:"required"`
}

// CheckoutHandler は POST /api/payments/checkout のハンドラーを返します。
func CheckoutHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkoutRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "tierId を JSON で送ってください",
			})
			return
		}
		if TierByID(req.TierID) == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "UNKNOWN_TIER",
				"message": "指定されたプランは存在しません",
			})
			return
		}

		userID := c.GetString(auth.ContextUserKey)
		url, err := svc.CreateCheckout(c.Request.Context(), userID, req.TierID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "CHECKOUT_FAILED",
				"message": "決済セッションの作成に失敗しました",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"checkoutUrl": url})
	}
}

// WebhookHandler は POST /api/payments/webhook のハンドラーを返します。
// Stripeからの署名付きイベントだけを受け付けます。
func WebhookHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookMaxBodyBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_PAYLOAD",
				"message": "リクエストボディの読み込みに失敗しました",
			})
			return
		}

		event, err := webhook.ConstructEvent(body, c.GetHeader("Stripe-Signature"), svc.cfg.StripeWebhookSecret)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_SIGNATURE",
				"message": "署名の検証に失敗しました",
			})
			return
		}

		switch event.Type {
		case "checkout.session.completed":
			var sess stripe.CheckoutSession
			if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_PAYLOAD",
					"message": "イベントの解析に失敗しました",
				})
				return
			}
			if err := svc.FulfillCheckout(c.Request.Context(), &sess); err != nil {
				if svc.logger != nil {
					svc.logger.Printf("failed to fulfill checkout %s: %v", sess.ID, err)
				}
				// 5xxを返すとStripeが再配送してくれる
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    "FULFILLMENT_FAILED",
					"message": "クレジットの付与に失敗しました",
				})
				return
			}
		}

		c.Status(http.StatusOK)
	}
}

// HistoryHandler は GET /api/payments/history のハンドラーを返します。
func HistoryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(auth.ContextUserKey)
		history, err := svc.History(c.Request.Context(), userID, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "HISTORY_FAILED",
				"message": "決済履歴の取得に失敗しました",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": history})
	}
}

// TiersHandler は GET /api/payments/tiers のハンドラーを返します。
func TiersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tiers": Tiers})
	}
}

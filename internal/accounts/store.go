package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	userKeyPrefix  = "user:"
	emailKeyPrefix = "user_email:"

	casMaxRetries = 10
)

var (
	// ErrInsufficientCredits は残高不足によるデビット失敗を表します。
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrEmailTaken は登録済みメールアドレスの再登録を表します。
	ErrEmailTaken = errors.New("email already registered")
	// ErrNotFound はユーザーが存在しないことを表します。
	ErrNotFound = errors.New("user not found")
)

// User はアカウント情報です。クレジット残高もこのレコードが持ちます。
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash"`
	Credits      int       `json:"credits"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store はユーザーを Redis にJSONレコードとして保存します。
// メールアドレスからの逆引きは user_email:{email} キーで索引します。
type Store struct {
	rdb *redis.Client
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Create は新規ユーザーを登録します。メールアドレスの索引確保を
// SETNXで行うため、同時登録でも片方だけが成功します。
func (s *Store) Create(ctx context.Context, email, name, passwordHash string, welcomeCredits int) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Credits:      welcomeCredits,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	claimed, err := s.rdb.SetNX(ctx, emailKey(email), user.ID, 0).Result()
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrEmailTaken
	}

	if err := s.save(ctx, user); err != nil {
		_ = s.rdb.Del(ctx, emailKey(email)).Err()
		return nil, err
	}
	return user, nil
}

// Get はIDでユーザーを取得します。
func (s *Store) Get(ctx context.Context, id string) (*User, error) {
	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail はメールアドレスでユーザーを取得します。
func (s *Store) GetByEmail(ctx context.Context, email string) (*User, error) {
	id, err := s.rdb.Get(ctx, emailKey(NormalizeEmail(email))).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// UpdateProfile は表示名を更新します。
func (s *Store) UpdateProfile(ctx context.Context, id, name string) (*User, error) {
	return s.mutate(ctx, id, func(user *User) error {
		user.Name = name
		return nil
	})
}

// UpdatePassword はパスワードハッシュを差し替えます。
func (s *Store) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.mutate(ctx, id, func(user *User) error {
		user.PasswordHash = passwordHash
		return nil
	})
	return err
}

// Debit は残高からamountを差し引きます。残高不足のときは
// ErrInsufficientCredits を返し、残高は変化しません。
func (s *Store) Debit(ctx context.Context, id string, amount int) (*User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive")
	}
	return s.mutate(ctx, id, func(user *User) error {
		if user.Credits < amount {
			return ErrInsufficientCredits
		}
		user.Credits -= amount
		return nil
	})
}

// Credit は残高にamountを加算します。払い戻しと購入の両方で使います。
func (s *Store) Credit(ctx context.Context, id string, amount int) (*User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive")
	}
	return s.mutate(ctx, id, func(user *User) error {
		user.Credits += amount
		return nil
	})
}

// mutate は WATCH を使った read-modify-write でレコードを更新します。
// クレジット残高はジョブ作成・払い戻し・購入の複数経路から同時に
// 変更されるため、すべての変更がこの1経路を通ります。
func (s *Store) mutate(ctx context.Context, id string, fn func(*User) error) (*User, error) {
	key := userKey(id)
	var result *User

	for i := 0; i < casMaxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return ErrNotFound
				}
				return err
			}
			var user User
			if err := json.Unmarshal(data, &user); err != nil {
				return err
			}
			if err := fn(&user); err != nil {
				return err
			}
			user.UpdatedAt = time.Now().UTC()

			payload, err := json.Marshal(&user)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				return nil
			})
			if err == nil {
				result = &user
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, fmt.Errorf("credit update contention on user %s", id)
}

func (s *Store) save(ctx context.Context, user *User) error {
	payload, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, userKey(user.ID), payload, 0).Err()
}

// NormalizeEmail はメールアドレスを索引キー用に正規化します。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userKey(id string) string {
	return userKeyPrefix + id
}

func emailKey(email string) string {
	return emailKeyPrefix + email
}

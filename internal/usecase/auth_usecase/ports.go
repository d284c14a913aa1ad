package auth

import (
	"context"
	"time"

	"shopapi/internal/domain/model"
)

// 平文パスワードからハッシュへ。
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// 入力パスワードと保存したハッシュを比べる約束
type PasswordVerifier interface {
	Verify(plain string, hashed string) bool
}

// UUID 等のIDを作る約束
type IDGenerator interface {
	NewID() string
}

// JWTを発行する約束
type AccessTokenIssuer interface {
	Issue(userID string, role model.Role, tokenVersion int, now time.Time) (token string, expiresAt time.Time, err error)
}

// usecaseがvalidatorに依存する約束
type CredentialValidator interface {
	ValidateRegister(ctx context.Context, name, email, password string) error
	ValidateLogin(ctx context.Context, email, password string) error
}

package validator

import (
	"context"
	"net/mail"
	"strings"

	"shopapi/internal/usecase"
)

type AuthValidator struct{}

func NewAuthValidator() *AuthValidator {
	return &AuthValidator{}
}

func invalid(msg string) error {
	return usecase.NewError(usecase.KindValidation, msg)
}

// サインアップの入力を検証（email重複はDBのunique制約で見る）
func (v *AuthValidator) ValidateRegister(ctx context.Context, name, email, password string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name required")
	}
	if len(name) > 100 {
		return invalid("name too long")
	}

	if !IsEmailLike(email) {
		return invalid("invalid email format")
	}

	// bcryptは72バイトまで
	if len(password) < 8 || len(password) > 72 {
		return invalid("password must be 8 to 72 characters")
	}
	if isWeakPassword(password) {
		return invalid("password too weak")
	}
	return nil
}

// ログインの入力を検証
func (v *AuthValidator) ValidateLogin(ctx context.Context, email, password string) error {
	// 必須チェック
	if strings.TrimSpace(email) == "" || password == "" {
		return invalid("email and password required")
	}
	if !strings.Contains(email, "@") {
		return invalid("invalid email format")
	}
	return nil
}

// 簡易メール形式をチェック（"admin@local" のようなドット無しドメインも通す）
func IsEmailLike(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// パスワードのよくある弱いパスワード
func isWeakPassword(password string) bool {
	normalized := strings.ToLower(strings.TrimSpace(password))

	weak := map[string]struct{}{
		"password":     {},
		"password123":  {},
		"123456789012": {},
		"1234567890":   {},
		"12345678":     {},
		"qwertyuiop":   {},
		"letmein123":   {},
		"admin123":     {},
	}

	_, ok := weak[normalized]
	return ok
}

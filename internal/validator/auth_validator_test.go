package validator

import (
	"context"
	"testing"

	"shopapi/internal/usecase"

	"github.com/stretchr/testify/assert"
)

func TestValidateRegister(t *testing.T) {
	v := NewAuthValidator()
	ctx := context.Background()

	tests := []struct {
		name     string
		user     string
		email    string
		password string
		wantErr  bool
	}{
		{"ok", "Ana", "ana@example.com", "s3cretpass", false},
		{"ok without dot domain", "Admin", "admin@local", "s3cretpass", false},
		{"empty name", " ", "ana@example.com", "s3cretpass", true},
		{"bad email", "Ana", "ana.example.com", "s3cretpass", true},
		{"email with display name", "Ana", "Ana <ana@example.com>", "s3cretpass", true},
		{"short password", "Ana", "ana@example.com", "short", true},
		{"weak password", "Ana", "ana@example.com", "Password123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRegister(ctx, tt.user, tt.email, tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, usecase.KindValidation, usecase.KindOf(err))
		})
	}
}

func TestValidateLogin(t *testing.T) {
	v := NewAuthValidator()
	ctx := context.Background()

	assert.NoError(t, v.ValidateLogin(ctx, "admin@local", "Admin123"))
	assert.Error(t, v.ValidateLogin(ctx, "", "x"))
	assert.Error(t, v.ValidateLogin(ctx, "admin@local", ""))
	assert.Error(t, v.ValidateLogin(ctx, "admin", "x"))
}

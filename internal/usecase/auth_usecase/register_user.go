package auth

import (
	"context"
	"errors"
	"strings"

	"shopapi/internal/domain/model"
	"shopapi/internal/repository"
	"shopapi/internal/usecase"
)

// 会員登録の入力
type RegisterUserInput struct {
	Name     string
	Email    string
	Password string
}

// RegisterUserUsecaseは会員登録の処理。登録後はそのままログイン状態のトークンを返す。
type RegisterUserUsecase struct {
	userRepo  repository.UserRepository
	validator CredentialValidator
	hasher    PasswordHasher
	issuer    AccessTokenIssuer
	idGen     IDGenerator
	clock     usecase.Clock
}

// DI
func NewRegisterUserUsecase(
	userRepo repository.UserRepository,
	validator CredentialValidator,
	hasher PasswordHasher,
	issuer AccessTokenIssuer,
	idGen IDGenerator,
	clock usecase.Clock,
) *RegisterUserUsecase {
	return &RegisterUserUsecase{
		userRepo:  userRepo,
		validator: validator,
		hasher:    hasher,
		issuer:    issuer,
		idGen:     idGen,
		clock:     clock,
	}
}

// 会員登録実行
func (u *RegisterUserUsecase) Execute(ctx context.Context, in RegisterUserInput) (AuthOutput, error) {
	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, in.Name, in.Email, in.Password); err != nil {
		return AuthOutput{}, err
	}
	email := normalizeEmail(in.Email)

	// パスワードをハッシュ化
	hashed, err := u.hasher.Hash(in.Password)
	if err != nil {
		return AuthOutput{}, &usecase.Error{Kind: usecase.KindInternal, Message: "hash failed", Err: err}
	}

	now := u.clock.Now()
	user := &model.User{
		ID:           u.idGen.NewID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hashed,         // 平文は保存しない
		Role:         model.RoleUser, // 初期はUSER
		TokenVersion: 0,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// email重複はunique制約で弾く
	if err := u.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return AuthOutput{}, usecase.NewError(usecase.KindConflict, "email already registered")
		}
		return AuthOutput{}, &usecase.Error{Kind: usecase.KindInternal, Message: "db error", Err: err}
	}

	return issue(u.issuer, user, now)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

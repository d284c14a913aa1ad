package auth

import (
	"context"
	"errors"
	"time"

	"shopapi/internal/domain/model"
	"shopapi/internal/repository"
	"shopapi/internal/usecase"

	"github.com/rs/zerolog"
)

// handlerからusecaseに渡す入力
type LoginInput struct {
	Email    string
	Password string
}

type UserDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Role         model.Role `json:"role"`
	TokenVersion int        `json:"token_version"`
	IsActive     bool       `json:"is_active"`
}

// 登録/ログインの返却
type AuthOutput struct {
	Token     string     `json:"token"`
	ExpiresIn int        `json:"expires_in"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	User      UserDTO    `json:"user"`
}

type LoginUsecase struct {
	userRepo  repository.UserRepository
	validator CredentialValidator
	verifier  PasswordVerifier
	issuer    AccessTokenIssuer
	clock     usecase.Clock
}

func NewLoginUsecase(
	userRepo repository.UserRepository,
	validator CredentialValidator,
	verifier PasswordVerifier,
	issuer AccessTokenIssuer,
	clock usecase.Clock,
) *LoginUsecase {
	return &LoginUsecase{
		userRepo:  userRepo,
		validator: validator,
		verifier:  verifier,
		issuer:    issuer,
		clock:     clock,
	}
}

// メールまたはパスワードが違う
func errInvalidCredentials() error {
	return usecase.NewError(usecase.KindUnauthorized, "invalid credentials")
}

// ログイン処理を実行する
func (u *LoginUsecase) Execute(ctx context.Context, in LoginInput) (AuthOutput, error) {
	// 1) 入力検証
	if err := u.validator.ValidateLogin(ctx, in.Email, in.Password); err != nil {
		return AuthOutput{}, err
	}

	//emailでユーザー取得
	user, err := u.userRepo.FindByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AuthOutput{}, errInvalidCredentials()
		}
		return AuthOutput{}, &usecase.Error{Kind: usecase.KindInternal, Message: "db error", Err: err}
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return AuthOutput{}, usecase.NewError(usecase.KindForbidden, "user is inactive")
	}

	//パスワード照合
	if ok := u.verifier.Verify(in.Password, user.PasswordHash); !ok {
		return AuthOutput{}, errInvalidCredentials()
	}

	now := u.clock.Now()
	out, err := issue(u.issuer, user, now)
	if err != nil {
		return AuthOutput{}, err
	}

	//最終ログイン時刻更新（失敗してもログインは通す）
	user.LastLoginAt = &now
	if err := u.userRepo.Update(ctx, user); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID).Msg("update last_login_at failed")
	}
	return out, nil
}

func issue(issuer AccessTokenIssuer, user *model.User, now time.Time) (AuthOutput, error) {
	token, exp, err := issuer.Issue(user.ID, user.Role, user.TokenVersion, now)
	if err != nil {
		return AuthOutput{}, &usecase.Error{Kind: usecase.KindInternal, Message: "token issue failed", Err: err}
	}
	return AuthOutput{
		Token:     token,
		ExpiresIn: int(exp.Sub(now).Seconds()),
		Email:     user.Email,
		Role:      user.Role,
		User:      toUserDTO(user),
	}, nil
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		IsActive:     u.IsActive,
	}
}

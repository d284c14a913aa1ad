package handler

import (
	"net/http"
	"strconv"

	"shopapi/internal/config"
	"shopapi/internal/domain/model"
	"shopapi/internal/middleware"
	"shopapi/internal/repository"
	"shopapi/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Product string `json:"product,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// usecaseのエラー種別→HTTPステータス
func statusOf(kind usecase.ErrorKind) int {
	switch kind {
	case usecase.KindUnauthorized:
		return http.StatusUnauthorized
	case usecase.KindForbidden:
		return http.StatusForbidden
	case usecase.KindNotFound:
		return http.StatusNotFound
	case usecase.KindConflict:
		return http.StatusConflict
	case usecase.KindInvalidQuantity,
		usecase.KindEmptyCart,
		usecase.KindInsufficientStock,
		usecase.KindInvalidState,
		usecase.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	ue, ok := usecase.AsError(err)
	if !ok || ue.Kind == usecase.KindInternal {
		//中身は返さずログにだけ残す
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("internal error")
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: string(usecase.KindInternal)})
	}
	return c.JSON(statusOf(ue.Kind), ErrorResponse{
		Error:   ue.Message,
		Code:    string(ue.Kind),
		Product: ue.Product,
	})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: string(usecase.KindValidation)})
}

// middleware.AuthJWTがc.Setした値からActorを作る
func getActor(c echo.Context) (usecase.Actor, bool) {
	userID, ok := c.Get(middleware.CtxUserIDKey).(string)
	if !ok || userID == "" {
		return usecase.Actor{}, false
	}
	role, _ := c.Get(middleware.CtxUserRoleKey).(string)
	return usecase.Actor{UserID: userID, Role: model.Role(role)}, true
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Code: string(usecase.KindUnauthorized)})
}

func parseIDParam(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// 空なら既定値
func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// JWT必須 + token_version一致
func userGroup(e *echo.Echo, prefix string, cfg config.Config, userRepo repository.UserRepository) *echo.Group {
	return e.Group(prefix,
		middleware.AuthJWT(cfg),
		middleware.TokenVersionGuard(userRepo),
	)
}

// 上に加えてADMIN限定
func adminGroup(e *echo.Echo, prefix string, cfg config.Config, userRepo repository.UserRepository) *echo.Group {
	return e.Group(prefix,
		middleware.AuthJWT(cfg),
		middleware.TokenVersionGuard(userRepo),
		middleware.AdminRoleGuard(),
	)
}

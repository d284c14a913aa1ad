package handler

import (
	"net/http"

	"shopapi/internal/config"
	"shopapi/internal/repository"
	auth "shopapi/internal/usecase/auth_usecase"

	"github.com/labstack/echo/v4"
)

type AdminUserHandler struct {
	uc *auth.AccountUsecase
}

func NewAdminUserHandler(uc *auth.AccountUsecase) *AdminUserHandler {
	return &AdminUserHandler{uc: uc}
}

func (h *AdminUserHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	// /api/admin 配下は全部「JWT必須 + token_version一致 + ADMIN限定」
	admin := adminGroup(e, "/api/admin", cfg, userRepo)

	admin.POST("/users/:id/force-logout", h.forceLogout)
}

func (h *AdminUserHandler) forceLogout(c echo.Context) error {
	actor, ok := getActor(c)
	if !ok {
		return unauthorized(c)
	}

	//UUIDの形式チェックはusecase側
	res, err := h.uc.ForceLogout(c.Request().Context(), actor, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, res)
}

package handler

import (
	"net/http"
	"strings"
	"time"

	"shopapi/internal/config"
	"shopapi/internal/repository"
	"shopapi/internal/usecase"

	"github.com/labstack/echo/v4"
)

type AuditLogHandler struct {
	uc *usecase.AuditLogUsecase
}

func NewAuditLogHandler(uc *usecase.AuditLogUsecase) *AuditLogHandler {
	return &AuditLogHandler{uc: uc}
}

func (h *AuditLogHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := adminGroup(e, "/api/admin", cfg, userRepo)
	admin.GET("/audit-logs", h.list)
}

func (h *AuditLogHandler) list(c echo.Context) error {
	actor, ok := getActor(c)
	if !ok {
		return unauthorized(c)
	}

	limit, err := queryInt(c, "limit", 50)
	if err != nil {
		return badRequest(c, "invalid limit")
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return badRequest(c, "invalid offset")
	}

	// from/to は RFC3339（toは含まない）
	from, err := queryTime(c, "from")
	if err != nil {
		return badRequest(c, "invalid from")
	}
	to, err := queryTime(c, "to")
	if err != nil {
		return badRequest(c, "invalid to")
	}

	// action=UPDATE_STOCK,DELETE_PRODUCT のようにカンマ区切りで複数
	var actions []string
	if v := c.QueryParam("action"); v != "" {
		actions = strings.Split(v, ",")
	}

	out, err := h.uc.List(c.Request().Context(), actor, usecase.ListAuditLogsInput{
		ActorUserID:  c.QueryParam("actor_user_id"),
		Actions:      actions,
		ResourceType: c.QueryParam("resource_type"),
		ResourceID:   c.QueryParam("resource_id"),
		From:         from,
		To:           to,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func queryTime(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package server

import (
	"context"
	"net/http"
	"time"

	"shopapi/internal/config"
	"shopapi/internal/handler"
	"shopapi/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers は登録するハンドラ一式
type Handlers struct {
	Auth         *handler.AuthHandler
	Categories   *handler.CategoryHandler
	Products     *handler.ProductHandler
	AdminProduct *handler.AdminProductHandler
	AdminUser    *handler.AdminUserHandler
	AuditLogs    *handler.AuditLogHandler
	Cart         *handler.CartHandler
	Orders       *handler.OrderHandler
}

// Pinger はヘルスチェックで叩く依存（DB、Redis）
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

func (s *Server) RegisterRoutes(cfg config.Config, userRepo repository.UserRepository, h Handlers, checks map[string]Pinger) {
	e := s.echo

	e.GET("/healthz", healthz(checks))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h.Auth.RegisterRoutes(e, cfg, userRepo)
	h.Categories.RegisterRoutes(e, cfg, userRepo)
	h.Products.RegisterRoutes(e)
	h.AdminProduct.RegisterRoutes(e, cfg, userRepo)
	h.AdminUser.RegisterRoutes(e, cfg, userRepo)
	h.AuditLogs.RegisterRoutes(e, cfg, userRepo)
	h.Cart.RegisterRoutes(e, cfg, userRepo)
	h.Orders.RegisterRoutes(e, cfg, userRepo)
}

func healthz(checks map[string]Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		res := map[string]string{"status": "ok"}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				res["status"] = "degraded"
				res[name] = err.Error()
				continue
			}
			res[name] = "ok"
		}
		return c.JSON(status, res)
	}
}

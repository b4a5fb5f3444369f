package handler

import (
	"net/http"
	"slices"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/Rainnny7/LicenseServer/internal/middleware"
)

type RouteOptions struct {
	TrustProxyHeaders bool
	RateLimiter       *middleware.RateLimiter
	Metrics           http.Handler
}

func (h *Handler) Register(app *fiber.App, opts RouteOptions) {
	app.Get("/health", h.HandleHealth)
	app.Get("/crypto/pub", h.HandlePublicKey)
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	limited := []fiber.Handler{middleware.RealIP(opts.TrustProxyHeaders)}
	if opts.RateLimiter != nil {
		limited = append(limited, opts.RateLimiter.Handler())
	}
	limited = slices.Clip(limited)

	// 客户端校验
	app.Post("/check", append(limited, h.HandleCheck)...)

	// 路由组
	api := app.Group("/api/v1")

	// 认证路由
	auth := api.Group("/auth")
	auth.Post("/login", append(limited, h.HandleLogin)...)
	auth.Post("/change-password", middleware.Auth(h.tokens), h.HandleChangePassword)

	// 管理员专用路由
	licenses := api.Group("/licenses", middleware.Auth(h.tokens), middleware.AdminOnly(h.db))
	licenses.Post("/", h.HandleCreateLicense)
	licenses.Delete("/", h.HandleDeleteLicense)
	licenses.Post("/lookup", h.HandleLookupLicense)
	licenses.Post("/clear-ips", h.HandleClearIPs)
	licenses.Post("/clear-hwids", h.HandleClearHWIDs)
	licenses.Get("/usage", h.HandleLicenseUsage)
	licenses.Get("/statistics", h.HandleLicenseStatistics)

	logs := api.Group("/logs", middleware.Auth(h.tokens))
	logs.Get("/", middleware.AdminOnly(h.db), h.HandleGetLogs)
	logs.Get("/mine", h.HandleGetUserLogs)
}

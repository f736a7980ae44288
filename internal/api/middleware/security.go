package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SecurityConfig configures the middleware returned by ReadOnlyAPI.
type SecurityConfig struct {
	AllowedOrigins []string // empty allows any origin
	BodyLimit      string   // e.g. "64K", empty disables the limit
}

// ReadOnlyAPI returns, in order, CORS for read methods, the request body
// limit and hardened response headers.
func ReadOnlyAPI(cfg SecurityConfig) []echo.MiddlewareFunc {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	chain := []echo.MiddlewareFunc{
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderAccept},
			MaxAge:       3600,
		}),
	}
	if cfg.BodyLimit != "" {
		chain = append(chain, middleware.BodyLimit(cfg.BodyLimit))
	}
	return append(chain,
		middleware.SecureWithConfig(middleware.SecureConfig{
			ContentTypeNosniff:    "nosniff",
			XFrameOptions:         "DENY",
			ReferrerPolicy:        "no-referrer",
			ContentSecurityPolicy: "default-src 'none'",
		}),
		noStore,
	)
}

// noStore keeps intermediaries from caching summaries; the service caches.
func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return next(c)
	}
}

package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

// Controller serves the dashboard routes.
type Controller struct {
	dashboard Dashboard
	log       logger.Logger
}

// Register adds the dashboard routes to g.
func (c *Controller) Register(g *echo.Group) {
	g.GET("/assets/:assetId/summary", c.GetAssetSummary)
	g.GET("/owners/:ownerId/summary", c.GetOwnerSummary)
	g.GET("/owners/:ownerId/detections", c.GetRecentDetections)
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// GetAssetSummary handles GET /api/v1/assets/:assetId/summary
func (c *Controller) GetAssetSummary(ctx echo.Context) error {
	sum, err := c.dashboard.AssetSummary(ctx.Request().Context(), ctx.Param("assetId"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to load asset summary")
	}
	return ctx.JSON(http.StatusOK, sum)
}

// GetOwnerSummary handles GET /api/v1/owners/:ownerId/summary
func (c *Controller) GetOwnerSummary(ctx echo.Context) error {
	sum, err := c.dashboard.OwnerSummary(ctx.Request().Context(), ctx.Param("ownerId"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to load owner summary")
	}
	return ctx.JSON(http.StatusOK, sum)
}

// GetRecentDetections handles GET /api/v1/owners/:ownerId/detections?limit=N
func (c *Controller) GetRecentDetections(ctx echo.Context) error {
	limit := 0
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return c.HandleError(ctx, errors.Newf("invalid limit %q", raw).
				Component("api").
				Category(errors.CategoryValidation).
				Build(), "invalid limit parameter")
		}
		limit = n
	}

	views, err := c.dashboard.RecentDetections(ctx.Request().Context(), ctx.Param("ownerId"), limit)
	if err != nil {
		return c.HandleError(ctx, err, "failed to load recent detections")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"ownerId":    ctx.Param("ownerId"),
		"detections": views,
	})
}

// HandleError logs err with a correlation id and writes a JSON error body
// whose status reflects the error category.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	if code >= http.StatusInternalServerError {
		// Internal details stay in the log.
		resp.Error = http.StatusText(code)
	}

	c.log.WithContext(ctx.Request().Context()).Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Error(err),
		logger.Int("code", code),
		logger.String("path", ctx.Request().URL.Path),
		logger.String("ip", ctx.RealIP()))

	return ctx.JSON(code, resp)
}

func statusFor(err error) int {
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

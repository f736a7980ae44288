package acrcloud

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tphakala/beatguard/internal/logger"
)

type monitorRequest struct {
	FingerprintID string   `json:"fingerprint_id"`
	BucketID      string   `json:"bucket_id"`
	Platforms     []string `json:"platforms"`
}

// EnableMonitoring sets the provider's monitored platform set for a
// fingerprint. The call replaces any previously monitored set.
func (c *Client) EnableMonitoring(ctx context.Context, bucketID, fingerprintID string, platforms []string) error {
	switch {
	case bucketID == "":
		return validationError(opEnable, "bucket_id is required")
	case fingerprintID == "":
		return validationError(opEnable, "fingerprint_id is required")
	case len(platforms) == 0:
		return validationError(opEnable, "at least one platform is required")
	}

	body, err := json.Marshal(monitorRequest{FingerprintID: fingerprintID, BucketID: bucketID, Platforms: platforms})
	if err != nil {
		return validationError(opEnable, err.Error())
	}

	build := func(ctx context.Context, now time.Time) (*http.Request, error) {
		return c.newSignedRequest(ctx, http.MethodPut, pathMonitors, now, nil, body)
	}
	if _, err := c.call(ctx, opEnable, build); err != nil {
		return err
	}

	c.log.WithContext(ctx).Info("monitoring enabled",
		logger.FingerprintID(fingerprintID),
		logger.Strings("platforms", platforms))
	return nil
}

// DisableMonitoring stops provider monitoring for a fingerprint.
func (c *Client) DisableMonitoring(ctx context.Context, bucketID, fingerprintID string) error {
	switch {
	case bucketID == "":
		return validationError(opDisable, "bucket_id is required")
	case fingerprintID == "":
		return validationError(opDisable, "fingerprint_id is required")
	}

	params := map[string]string{"fingerprint_id": fingerprintID, "bucket_id": bucketID}
	build := func(ctx context.Context, now time.Time) (*http.Request, error) {
		return c.newSignedRequest(ctx, http.MethodDelete, pathMonitors, now, params, nil)
	}
	if _, err := c.call(ctx, opDisable, build); err != nil {
		return err
	}

	c.log.WithContext(ctx).Info("monitoring disabled", logger.FingerprintID(fingerprintID))
	return nil
}

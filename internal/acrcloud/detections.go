package acrcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

// Provider field aliases, first match wins. Platforms report the same
// concept under different names.
var (
	platformFields  = []string{"platform", "source", "channel_type"}
	videoIDFields   = []string{"video_id", "track_id", "media_id", "platform_id", "id"}
	urlFields       = []string{"url", "link", "video_url", "platform_url"}
	titleFields     = []string{"title", "video_title", "track_name", "name"}
	creatorFields   = []string{"creator", "channel", "channel_name", "uploader", "artist", "author"}
	detectedAtField = []string{"detected_at", "timestamp", "played_at", "timestamp_utc", "created_at"}
	scoreFields     = []string{"score", "confidence", "confidence_score"}
	durationFields  = []string{"duration", "duration_seconds", "played_duration", "duration_ms"}
)

// Record container keys for data objects that wrap the list.
var listFields = []string{"detections", "results", "items", "list"}

// providerTimeLayouts are tried in order for string timestamps. Zone-less
// values are read as UTC.
var providerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	model.DateLayout,
}

// QueryDetections returns the provider's detections of fingerprintID in the
// half-open day range r, normalized to model.Detection. Records that lack a
// platform, video id or timestamp are skipped and logged.
func (c *Client) QueryDetections(ctx context.Context, bucketID, fingerprintID string, r model.DateRange) ([]model.Detection, error) {
	switch {
	case bucketID == "":
		return nil, validationError(opQuery, "bucket_id is required")
	case fingerprintID == "":
		return nil, validationError(opQuery, "fingerprint_id is required")
	}
	if err := r.Validate(); err != nil {
		return nil, validationError(opQuery, err.Error())
	}

	params := map[string]string{
		"fingerprint_id": fingerprintID,
		"bucket_id":      bucketID,
		"start_date":     r.StartDate(),
		"end_date":       r.EndDate(),
	}
	build := func(ctx context.Context, now time.Time) (*http.Request, error) {
		return c.newSignedRequest(ctx, http.MethodGet, pathDetections, now, params, nil)
	}

	data, err := c.call(ctx, opQuery, build)
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}

	log := c.log.WithContext(ctx).With(logger.FingerprintID(fingerprintID))
	out := make([]model.Detection, 0, len(records))
	for i, rec := range records {
		d, reason := normalizeRecord(fingerprintID, rec)
		if reason != "" {
			log.Warn("skipping provider record",
				logger.Int("index", i),
				logger.String("reason", reason))
			continue
		}
		out = append(out, d)
	}

	log.Debug("detections retrieved",
		logger.String("start_date", r.StartDate()),
		logger.String("end_date", r.EndDate()),
		logger.Int("records", len(records)),
		logger.Int("normalized", len(out)))
	return out, nil
}

// decodeRecords accepts data as a bare list or as an object wrapping one.
func decodeRecords(data json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	if trimmed[0] == '[' {
		var list []map[string]any
		if err := dec.Decode(&list); err != nil {
			return nil, malformedDataError(opQuery, err)
		}
		return list, nil
	}

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, malformedDataError(opQuery, err)
	}
	for _, key := range listFields {
		raw, ok := obj[key].([]any)
		if !ok {
			continue
		}
		list := make([]map[string]any, 0, len(raw))
		for _, item := range raw {
			if m, ok := item.(map[string]any); ok {
				list = append(list, m)
			}
		}
		return list, nil
	}
	return nil, nil
}

// normalizeRecord maps one provider record into the canonical shape. A
// non-empty reason means the record is unusable.
func normalizeRecord(fingerprintID string, rec map[string]any) (model.Detection, string) {
	platform := model.NormalizePlatform(stringField(rec, platformFields))
	if platform == "" {
		return model.Detection{}, "missing platform"
	}
	videoID := strings.TrimSpace(stringField(rec, videoIDFields))
	if videoID == "" {
		return model.Detection{}, "missing platform video id"
	}
	detectedAt, ok := timeField(rec, detectedAtField)
	if !ok {
		return model.Detection{}, "missing or unparseable detection time"
	}

	d := model.Detection{
		FingerprintID:   fingerprintID,
		Platform:        platform,
		PlatformVideoID: videoID,
		PlatformURL:     optionalString(rec, urlFields),
		PlatformTitle:   optionalString(rec, titleFields),
		PlatformCreator: optionalString(rec, creatorFields),
		DetectedAt:      detectedAt,
		ConfidenceScore: scoreField(rec),
		DurationSeconds: durationField(rec),
	}
	return d, ""
}

func lookup(rec map[string]any, keys []string) (string, any, bool) {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return k, v, true
		}
	}
	return "", nil, false
}

// stringField returns the first alias present, rendering numbers as text.
func stringField(rec map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// optionalString returns nil rather than "" for absent or blank values.
func optionalString(rec map[string]any, keys []string) *string {
	s := stringField(rec, keys)
	if s == "" {
		return nil
	}
	return &s
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// timeField parses RFC 3339, zone-less date-times (as UTC) and epoch
// seconds or milliseconds.
func timeField(rec map[string]any, keys []string) (time.Time, bool) {
	_, v, ok := lookup(rec, keys)
	if !ok {
		return time.Time{}, false
	}

	if s, isString := v.(string); isString {
		s = strings.TrimSpace(s)
		for _, layout := range providerTimeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t.UTC(), true
			}
		}
	}

	f, ok := numberOf(v)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Unix(int64(f), 0).UTC(), true
}

// scoreField reads a 0-100 confidence. Fractional scores in (0, 1) are
// scaled. A missing score is 0 so the record cannot pass a threshold.
func scoreField(rec map[string]any) int {
	_, v, ok := lookup(rec, scoreFields)
	if !ok {
		return 0
	}
	f, ok := numberOf(v)
	if !ok || math.IsNaN(f) {
		return 0
	}
	if f > 0 && f < 1 {
		f *= 100
	}
	return int(math.Round(min(max(f, 0), 100)))
}

func durationField(rec map[string]any) *float64 {
	key, v, ok := lookup(rec, durationFields)
	if !ok {
		return nil
	}
	f, ok := numberOf(v)
	if !ok || f < 0 || math.IsNaN(f) {
		return nil
	}
	if key == "duration_ms" {
		f /= 1000
	}
	return &f
}

package acrcloud

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/logger"
)

// Metadata describes the audio being registered. CustomID carries the
// catalog asset id so detections can be correlated without a lookup table.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	CustomID string
}

// Audio is the sample uploaded for fingerprinting.
type Audio struct {
	Filename string
	Data     []byte
}

// Registration is the provider's answer to a successful upload.
type Registration struct {
	FingerprintID string
}

type registerData struct {
	FingerprintID string `json:"fingerprint_id"`
	ACRID         string `json:"acr_id"`
}

// Register uploads audio and its metadata into bucketID and returns the
// provider-assigned fingerprint id.
func (c *Client) Register(ctx context.Context, bucketID string, audio Audio, meta Metadata) (Registration, error) {
	switch {
	case bucketID == "":
		return Registration{}, validationError(opRegister, "bucket_id is required")
	case len(audio.Data) == 0:
		return Registration{}, validationError(opRegister, "audio sample is empty")
	case meta.Title == "":
		return Registration{}, validationError(opRegister, "title is required")
	case meta.CustomID == "":
		return Registration{}, validationError(opRegister, "custom id is required")
	}
	if audio.Filename == "" {
		audio.Filename = meta.CustomID
	}

	build := func(ctx context.Context, now time.Time) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)

		fields := c.signer.Credentials(http.MethodPost, pathAudios, now)
		fields.Set("bucket_id", bucketID)
		fields.Set("title", meta.Title)
		fields.Set("custom_id", meta.CustomID)
		if meta.Artist != "" {
			fields.Set("artist", meta.Artist)
		}
		if meta.Album != "" {
			fields.Set("album", meta.Album)
		}
		for k, vs := range fields {
			for _, v := range vs {
				if err := w.WriteField(k, v); err != nil {
					return nil, err
				}
			}
		}

		part, err := w.CreateFormFile("audio_file", audio.Filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(audio.Data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathAudios, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	data, err := c.call(ctx, opRegister, build)
	if err != nil {
		return Registration{}, err
	}

	var out registerData
	if err := decodeData(opRegister, data, &out); err != nil {
		return Registration{}, err
	}
	id := out.FingerprintID
	if id == "" {
		id = out.ACRID
	}
	if id == "" {
		return Registration{}, errors.New(&ProviderError{Op: opRegister, Kind: ErrProviderRejected, Message: "response carries no fingerprint id"}).
			Component(componentACRCloud).
			Context("custom_id", meta.CustomID).
			Build()
	}

	c.log.WithContext(ctx).Info("audio registered",
		logger.String("custom_id", meta.CustomID),
		logger.FingerprintID(id),
		logger.String("bucket_id", bucketID),
		logger.Int("audio_bytes", len(audio.Data)))
	return Registration{FingerprintID: id}, nil
}

func validationError(op, msg string) error {
	return errors.Newf("acrcloud %s: %s", op, msg).
		Component(componentACRCloud).
		Category(errors.CategoryValidation).
		Context("operation", op).
		Build()
}

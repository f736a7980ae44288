package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tphakala/beatguard/internal/errors"
	"github.com/tphakala/beatguard/internal/model"
)

// Publisher sends detection events on topics of the form <base>/<platform>.
type Publisher struct {
	client Client
	base   string
}

// NewPublisher wraps a connected client.
func NewPublisher(c Client, baseTopic string) *Publisher {
	return &Publisher{client: c, base: strings.TrimRight(baseTopic, "/")}
}

// Topic returns the topic a detection on platform is published to.
func (p *Publisher) Topic(platform string) string {
	if platform == "" {
		return p.base
	}
	return p.base + "/" + platform
}

// PublishDetection publishes one newly stored detection.
func (p *Publisher) PublishDetection(ctx context.Context, d *model.Detection) error {
	payload, err := json.Marshal(NewDetectionEvent(d))
	if err != nil {
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Build()
	}
	return p.client.Publish(ctx, p.Topic(d.Platform), payload)
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}

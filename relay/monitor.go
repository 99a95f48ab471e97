package relay

import (
	"time"

	"github.com/posthog/posthog-go"
)

// Monitor receives one event per processed inbound message. Analytics is
// best-effort: capture failures never affect the request.
type Monitor interface {
	ConversionProcessed(sender, outcome, backend string, sizeBytes int64, latency time.Duration)
	Close() error
}

// PosthogMonitor publishes processing events to PostHog.
type PosthogMonitor struct {
	client posthog.Client
}

// NewPosthogMonitor connects to PostHog. endpoint may be empty for the
// default cloud instance.
func NewPosthogMonitor(apiKey, endpoint string) (*PosthogMonitor, error) {
	var client posthog.Client
	var err error
	if endpoint != "" {
		client, err = posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	} else {
		client, err = posthog.NewWithConfig(apiKey, posthog.Config{})
	}
	if err != nil {
		return nil, err
	}
	return &PosthogMonitor{client: client}, nil
}

func (p *PosthogMonitor) ConversionProcessed(sender, outcome, backend string, sizeBytes int64, latency time.Duration) {
	p.client.Enqueue(posthog.Capture{
		DistinctId: sender,
		Event:      "conversion_processed",
		Properties: posthog.NewProperties().
			Set("outcome", outcome).
			Set("backend", backend).
			Set("size_bytes", sizeBytes).
			Set("latency_ms", latency.Milliseconds()),
	})
}

func (p *PosthogMonitor) Close() error { return p.client.Close() }

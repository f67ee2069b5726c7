package telemetry

import (
	"github.com/posthog/posthog-go"
)

// Service defines the interface for telemetry operations.
type Service interface {
	Track(runID, event string, properties map[string]any)
	Close()
}

// NoopService is a telemetry service that does nothing. Used whenever
// telemetry is disabled or unconfigured.
type NoopService struct{}

func (s *NoopService) Track(runID, event string, properties map[string]any) {}
func (s *NoopService) Close()                                               {}

type posthogService struct {
	client posthog.Client
}

// New creates a new telemetry service. Returns NoopService if apiKey is
// empty or the client cannot be built.
func New(apiKey, endpoint string) Service {
	if apiKey == "" {
		return &NoopService{}
	}

	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}

	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		return &NoopService{}
	}

	return &posthogService{client: client}
}

func (s *posthogService) Track(runID, event string, properties map[string]any) {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	_ = s.client.Enqueue(posthog.Capture{
		DistinctId: runID,
		Event:      event,
		Properties: props,
	})
}

func (s *posthogService) Close() {
	_ = s.client.Close()
}

package generation

import (
	"fmt"
	"net/http"
	"time"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

// Gateway types
const (
	TypeWebhook = "webhook"
	TypeMock    = "mock"
)

// Options selects and configures a gateway
type Options struct {
	Type        string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	TestTimeout time.Duration
}

// NewGenerationGateway creates a gateway based on the configured type
func NewGenerationGateway(opts Options) (output.GenerationGateway, error) {
	switch opts.Type {
	case TypeWebhook, "":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("gateway base url is required for %s gateway", TypeWebhook)
		}
		return NewWebhookGateway(WebhookConfig{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			Timeout:     opts.Timeout,
			TestTimeout: opts.TestTimeout,
		}, &http.Client{}), nil

	case TypeMock:
		return NewMockGateway(1), nil

	default:
		return nil, fmt.Errorf("unknown gateway type: %s (supported: %s, %s)", opts.Type, TypeWebhook, TypeMock)
	}
}

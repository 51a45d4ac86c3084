package providers

import (
	"log/slog"
	"net/http"

	"golang.org/x/sync/semaphore"

	"github.com/lizzyg/qwenai/internal/capability"
	"github.com/lizzyg/qwenai/internal/entry"
	"github.com/lizzyg/qwenai/internal/providers/openai"
)

// Deps are the process-wide pieces every client shares.
type Deps struct {
	Table      *capability.Table
	HTTPClient *http.Client
	Logger     *slog.Logger
	Limiter    *semaphore.Weighted
}

// NewProviderClient resolves the capabilities for the profile's base URL and
// builds a client for it. Every supported vendor speaks the OpenAI dialect,
// so the capability row is what differs between them.
func NewProviderClient(p entry.Profile, d Deps) *openai.Client {
	table := d.Table
	if table == nil {
		table = capability.Default()
	}
	prov := table.Lookup(p.BaseURL)
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := []openai.Option{
		openai.WithLogger(logger.With(slog.String("provider", prov.Name))),
		openai.WithRetry(p.Retry),
	}
	if d.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(d.HTTPClient))
	} else if p.Timeout > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{Timeout: p.Timeout}))
	}
	if d.Limiter != nil {
		opts = append(opts, openai.WithLimiter(d.Limiter))
	}
	return openai.New(p.BaseURL, p.APIKey, prov, opts...)
}

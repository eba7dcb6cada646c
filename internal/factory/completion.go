package factory

import (
	"github.com/rs/zerolog"

	"github.com/casaflow/chatcore/internal/completion"
	"github.com/casaflow/chatcore/internal/config"
)

// NewCompletionService builds the configured completion backend. An empty
// CompletionURL selects the offline static service, which keeps local
// development working without a model endpoint.
func NewCompletionService(cfg *config.Config, log zerolog.Logger) completion.Service {
	if cfg.CompletionURL == "" {
		log.Warn().Msg("no completion URL configured; using static responses")
		return &completion.Static{}
	}
	return completion.NewHTTPService(cfg.CompletionURL, cfg.CompletionTimeout,
		completion.WithLogger(log))
}

package ai

import (
	"fmt"

	"github.com/kiranshivaraju/carinspect/internal/config"
	"github.com/kiranshivaraju/carinspect/pkg/models"
)

// NewAnalyzer constructs the analysis backend selected by config.
// Called once at server startup.
func NewAnalyzer(cfg config.AIConfig) (models.Analyzer, error) {
	switch cfg.Provider {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("http AI provider requires a base URL")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.RequestTimeout), nil
	case "mock":
		return NewStaticAnalyzer(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of http, mock", cfg.Provider)
	}
}

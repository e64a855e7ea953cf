package analysis

import (
	"fmt"

	"talentflex/internal/config"
)

// FromConfig selects the engine named by cfg.Engine.
func FromConfig(cfg config.AnalysisConfig) (Engine, error) {
	switch cfg.Engine {
	case "", "static":
		return NewStaticEngine(cfg.StaticDelay), nil
	case "http":
		return NewHTTPEngine(cfg.Endpoint, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown analysis engine %q", cfg.Engine)
	}
}

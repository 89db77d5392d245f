// Package imagegen selects and classifies image-generation backends.
package imagegen

import (
	"fmt"

	"github.com/kiranshivaraju/merchmate/internal/config"
	"github.com/kiranshivaraju/merchmate/internal/imagegen/gemini"
	"github.com/kiranshivaraju/merchmate/internal/imagegen/proxy"
	"github.com/kiranshivaraju/merchmate/pkg/models"
	"github.com/rs/zerolog"
)

// NewGenerator constructs the backend named by cfg.Backend.
// Called once at server startup.
func NewGenerator(cfg config.GeneratorConfig, logger zerolog.Logger) (models.ImageGenerator, error) {
	switch cfg.Backend {
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.Timeout, logger), nil
	case "proxy":
		return proxy.NewProvider(cfg.Proxy, cfg.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of gemini, proxy", ErrUnknownBackend, cfg.Backend)
	}
}

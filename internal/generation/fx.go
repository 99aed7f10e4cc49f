package generation

import (
	"github.com/postloom/postloom/internal/generation/providers"
	"github.com/postloom/postloom/internal/generation/service"
	"github.com/postloom/postloom/internal/media"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(
		providers.NewGemini,
		providers.NewRunway,
		providers.NewSuno,
		func(gemini *providers.Gemini, runway *providers.Runway, suno *providers.Suno) *providers.Registry {
			return providers.NewRegistry(gemini, runway, suno)
		},
		func(storage *media.Storage) service.MediaStore { return storage },
		service.New,
	),
)

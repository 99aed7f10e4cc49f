package content

import (
	"github.com/postloom/postloom/internal/content/repository"
	"github.com/postloom/postloom/internal/content/service"
	"go.uber.org/fx"
)

var Module = fx.Module("content.service",
	fx.Provide(
		repository.New,
		service.New,
	),
)

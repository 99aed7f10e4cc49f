package publisher

import (
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	"github.com/postloom/postloom/internal/publisher/domain"
	"github.com/postloom/postloom/internal/publisher/instagram"
	"go.uber.org/fx"
)

var Module = fx.Module("publisher",
	fx.Provide(
		instagram.NewClient,
		func(c *instagram.Client) domain.Publisher { return c },
		func(c *instagram.Client) domain.Replier { return c },
		func(c *instagram.Client) connectiondomain.TokenExchanger { return c },
	),
)

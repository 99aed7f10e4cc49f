package connection

import (
	"github.com/postloom/postloom/internal/connection/service"
	"go.uber.org/fx"
)

var Module = fx.Module("connection.service",
	fx.Provide(service.New),
)

package account

import (
	"github.com/postloom/postloom/internal/account/repository"
	"github.com/postloom/postloom/internal/account/service"
	"github.com/postloom/postloom/internal/account/session"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(
		repository.New,
		service.New,
		session.NewManager,
	),
)

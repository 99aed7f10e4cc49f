package purchase

import (
	"github.com/postloom/postloom/internal/purchase/service"
	"github.com/postloom/postloom/internal/purchase/stripegateway"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(
		stripegateway.New,
		func(g *stripegateway.Gateway) service.Gateway { return g },
		service.New,
	),
)

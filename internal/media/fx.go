package media

import "go.uber.org/fx"

var Module = fx.Module("media.storage",
	fx.Provide(NewStorage),
)

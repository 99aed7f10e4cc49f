package sweep

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("sweep",
	fx.Provide(New),
)

// LoopModule runs the sweeper on a ticker under the fx lifecycle. The
// HTTP trigger shares the same Sweeper and needs no loop.
var LoopModule = fx.Module("sweep.loop",
	fx.Invoke(registerLoop),
)

func registerLoop(lc fx.Lifecycle, s *Sweeper) {
	loopCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.RunForever(loopCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// Command sweeper runs the background jobs on a ticker without serving
// HTTP: publishing due posts, polling generations, expiring connections.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/config"
	"github.com/postloom/postloom/internal/connection"
	"github.com/postloom/postloom/internal/content"
	"github.com/postloom/postloom/internal/credits"
	"github.com/postloom/postloom/internal/generation"
	"github.com/postloom/postloom/internal/media"
	"github.com/postloom/postloom/internal/notification"
	"github.com/postloom/postloom/internal/observability"
	"github.com/postloom/postloom/internal/publisher"
	"github.com/postloom/postloom/internal/ratelimit"
	"github.com/postloom/postloom/internal/sweep"
	"github.com/postloom/postloom/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Domain services the sweep jobs drive.
		credits.Module,
		content.Module,
		connection.Module,
		media.Module,
		publisher.Module,
		generation.Module,
		notification.Module,
		ratelimit.Module,

		sweep.Module,
		sweep.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

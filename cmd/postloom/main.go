// Command postloom runs the full service in one process: the HTTP API
// plus the background sweep loop.
package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	"github.com/postloom/postloom/internal/config"
	"github.com/postloom/postloom/internal/migration"
	"github.com/postloom/postloom/internal/observability"
	"github.com/postloom/postloom/internal/server"
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
		migration.Module,

		server.Module,
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

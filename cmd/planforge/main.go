package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/planforge/planforge/internal/clock"
	"github.com/planforge/planforge/internal/logger"
	"github.com/planforge/planforge/internal/server"
	"github.com/planforge/planforge/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
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

package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"tipcast/pkg/background"
	"tipcast/pkg/breaker"
	"tipcast/pkg/client"
	"tipcast/pkg/config"
	"tipcast/pkg/db"
	"tipcast/pkg/logger"
	"tipcast/pkg/redis"
	"tipcast/pkg/task"
	"tipcast/services/leaderboard"
	"tipcast/services/tips"
)

// tipworker drains the settle queue: settlement, leaderboard updates,
// enrichment fan-out, failure bookkeeping.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		breaker.Module,
		background.Module,
		client.Module,
		fx.Provide(provideSnowflakeNode),
		leaderboard.Module,
		tips.WorkerModule,
		task.Server,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(2)
}

package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"tipcast/internal/httpapi"
	"tipcast/pkg/background"
	"tipcast/pkg/breaker"
	"tipcast/pkg/client"
	"tipcast/pkg/config"
	"tipcast/pkg/db"
	"tipcast/pkg/health"
	"tipcast/pkg/kvstore"
	"tipcast/pkg/logger"
	"tipcast/pkg/redis"
	"tipcast/pkg/server"
	"tipcast/pkg/task"
	"tipcast/services/abuse"
	"tipcast/services/leaderboard"
	"tipcast/services/ratelimit"
	"tipcast/services/tips"
)

// tipd is the submission API: admission pipeline in front of the settle
// queue, plus leaderboard reads.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		kvstore.Module,
		breaker.Module,
		background.Module,
		client.Module,
		task.Client,
		task.EnqueuerModule,
		fx.Provide(provideSnowflakeNode),
		ratelimit.Module,
		abuse.Module,
		leaderboard.Module,
		tips.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,
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
	return snowflake.NewNode(1)
}

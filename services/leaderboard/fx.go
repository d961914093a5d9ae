package leaderboard

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("leaderboard.service",
	fx.Provide(
		NewRedisScoreboard,
		NewService,
	),
	fx.Invoke(migrate),
)

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(&TipEvent{}); err != nil {
				zap.L().Error("failed to migrate tip_events", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

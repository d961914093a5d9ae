package tips

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module wires the submission side: the API binary provides it together
// with the asynq client module.
var Module = fx.Module("tips.service",
	fx.Provide(NewService),
)

// WorkerModule wires the queue-draining side: the settle handler, the
// failure table migration, and the retention sweep.
var WorkerModule = fx.Module("tips.worker",
	fx.Provide(NewWorker),
	fx.Invoke(
		migrate,
		registerHandlers,
		startRetentionSweep,
	),
)

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.WithContext(ctx).AutoMigrate(&TipFailure{}); err != nil {
				zap.L().Error("failed to migrate tip_failures", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

func registerHandlers(mux *asynq.ServeMux, w *Worker) {
	mux.HandleFunc(TaskSettleTip, w.HandleSettleTip)
}

func startRetentionSweep(lc fx.Lifecycle, w *Worker) {
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(time.Hour)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						n, err := w.PurgeFailures(context.Background())
						if err != nil {
							zap.L().Error("[Tips] failure purge failed", zap.Error(err))
							continue
						}
						if n > 0 {
							zap.L().Info("[Tips] purged stale failure records", zap.Int64("rows", n))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}

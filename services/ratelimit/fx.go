package ratelimit

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ratelimit.service",
	fx.Provide(NewService),
)

package logger

import "go.uber.org/fx"

// Module installs the Fx event logger adapter.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)

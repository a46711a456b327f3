// Package log builds the process-wide zap logger.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Production installs a JSON logger at info level and returns it.
func Production(opts ...zap.Option) *zap.Logger {
	l, err := zap.NewProduction(
		opts...,
	)

	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)

	return zap.L()
}

// Development installs a human readable debug logger with caller info and
// returns it.
func Development(opts ...zap.Option) *zap.Logger {
	opts = append(opts, zap.WithCaller(true))
	l, err := zap.NewDevelopment(
		opts...,
	)

	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(l)

	return zap.L()
}

// Level returns an option capping l's output at lvl.
func Level(lvl zapcore.Level) zap.Option {
	return zap.IncreaseLevel(lvl)
}

package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fatflowers/knightly/pkg/config"
)

// New builds the process logger. Production JSON everywhere except dev, which
// gets the console encoder and debug level.
func New(cfg *config.Config) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	if cfg != nil && cfg.Env == config.EnvDev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.TimeKey = "time"
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	l = l.With(zap.String("service", "knightly"))
	return l.Sugar(), nil
}

// registerSync flushes buffered entries on shutdown.
func registerSync(lc fx.Lifecycle, l *zap.SugaredLogger) {
	lc.Append(fx.StopHook(func() {
		_ = l.Sync()
	}))
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerSync),
)

package main

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	stdlogadapter "github.com/jassus213/go-finance-proxy/adapters/log"
	logrusadapter "github.com/jassus213/go-finance-proxy/adapters/logrus"
	zapadapter "github.com/jassus213/go-finance-proxy/adapters/zap"
	zerologadapter "github.com/jassus213/go-finance-proxy/adapters/zerolog"
	"github.com/jassus213/go-finance-proxy/config"
	"github.com/jassus213/go-finance-proxy/ratelimiter"
)

// newLogger builds the configured logging backend writing to w. The returned
// func flushes buffered entries.
func newLogger(cfg config.LogConfig, w io.Writer) (ratelimiter.Logger, func(), error) {
	jsonFormat := cfg.Format == "json"

	switch cfg.Backend {
	case "zap":
		level := zapcore.InfoLevel
		switch cfg.Level {
		case "debug":
			level = zapcore.DebugLevel
		case "error":
			level = zapcore.ErrorLevel
		}

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if jsonFormat {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
			enc = zapcore.NewConsoleEncoder(encCfg)
		}

		l := zapadapter.New(zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), level)).Named("finproxy"))
		return l, func() { _ = l.Sync() }, nil

	case "zerolog":
		level := zerolog.InfoLevel
		switch cfg.Level {
		case "debug":
			level = zerolog.DebugLevel
		case "error":
			level = zerolog.ErrorLevel
		}

		out := w
		if !jsonFormat {
			out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
		}
		zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
		return zerologadapter.New(&zl).With("service", "finproxy"), func() {}, nil

	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		switch cfg.Level {
		case "debug":
			l.SetLevel(logrus.DebugLevel)
		case "error":
			l.SetLevel(logrus.ErrorLevel)
		default:
			l.SetLevel(logrus.InfoLevel)
		}
		if jsonFormat {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
		}
		return logrusadapter.New(l).WithField("service", "finproxy"), func() {}, nil

	case "std":
		level := stdlogadapter.LevelInfo
		switch cfg.Level {
		case "debug":
			level = stdlogadapter.LevelDebug
		case "error":
			level = stdlogadapter.LevelError
		}
		return stdlogadapter.NewWithLevel(log.New(w, "finproxy ", log.LstdFlags), level), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown log backend %q", cfg.Backend)
	}
}

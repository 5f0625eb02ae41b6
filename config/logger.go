package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sirupsen/logrus"
)

func parseLevel(name string) (level.Option, error) {
	switch strings.ToLower(name) {
	case "debug":
		return level.AllowDebug(), nil
	case "", "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	default:
		return nil, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, name)
	}
}

// NewLogger builds the node logger from the log section. Wire decode traces
// go through logrus and follow the same level.
func (c LogConfig) NewLogger(w io.Writer) (log.Logger, error) {
	opt, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	var logger log.Logger
	switch c.Format {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
		logrus.SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}
	logger = level.NewFilter(logger, opt)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	logrus.SetOutput(w)
	if lvl, err := logrus.ParseLevel(c.Level); err == nil {
		logrus.SetLevel(lvl)
	}
	return logger, nil
}

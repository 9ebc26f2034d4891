package logging

import (
	"os"

	"meterbook/internal/config"

	_ "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
)

// New builds the process logger. Encoding defaults to logfmt; "json" and
// "console" are passed through to zap.
func New(cfg config.LoggerConfig, service string) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Encoding = "logfmt"
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	if cfg.Level != "" {
		if err := zc.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}
	zc.InitialFields = make(map[string]any)
	zc.InitialFields["host"], _ = os.Hostname()
	zc.InitialFields["service"] = service
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

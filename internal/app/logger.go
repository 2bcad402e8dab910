package app

import (
	"strings"

	"github.com/charlesng35/otpauth/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level, defaulting to info.
// Outside production the human readable development encoder is used.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}

	var opts []logger.Option
	if !cfg.IsProduction() {
		opts = append(opts, logger.WithDevelopment())
	}
	opts = append(opts, logger.WithInitialFields(map[string]interface{}{"service": "otpauth"}))
	return logger.Init(level, opts...)
}

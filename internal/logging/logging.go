package logging

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"

	"smartmess-backend/config"
)

// Init configures the process-wide logrus logger.
func Init(cfg config.LoggingConfig) {
	log.SetOutput(os.Stdout)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("unknown log level %q; using info", cfg.Level)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

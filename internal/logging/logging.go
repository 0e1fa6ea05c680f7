package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
)

// Setup configures the global zerolog logger from the general config block.
func Setup(service string, general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", service).
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", service).
			Str("instance", general.InstanceID).Logger()
	}
}

// secretKeys are JSON/map keys whose values are never written to any log.
var secretKeys = []string{
	"authorization",
	"x-api-key",
	"api_key",
	"bot_token",
	"wallet_key",
	"admin_key",
}

// Redact returns a copy of fields with secret values masked. Keys are
// matched case-insensitively.
func Redact(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if isSecretKey(k) {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}

func isSecretKey(k string) bool {
	lk := strings.ToLower(k)
	for _, s := range secretKeys {
		if lk == s {
			return true
		}
	}
	return false
}

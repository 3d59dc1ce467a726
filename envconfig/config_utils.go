package envconfig

import (
	"log/slog"
	"strconv"
)

// Bool returns a getter for a boolean environment variable. Unparseable
// values report true so that setting a flag at all enables it.
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String returns a getter for a string environment variable.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Uint returns a getter for an unsigned integer environment variable,
// falling back to defaultValue on empty or invalid input.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap documents every recognized environment variable together with its
// current effective value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"KOSPEECH_DEBUG":        {"KOSPEECH_DEBUG", LogLevel(), "Show additional debug information (e.g. KOSPEECH_DEBUG=1)"},
		"KOSPEECH_HOST":         {"KOSPEECH_HOST", Host(), "IP address and port for the recognition server (default 127.0.0.1:7733)"},
		"KOSPEECH_MODELS":       {"KOSPEECH_MODELS", Models(), "Directory containing model packages"},
		"KOSPEECH_NUM_THREADS":  {"KOSPEECH_NUM_THREADS", NumThreads(), "Worker goroutines for tensor math (default: number of CPUs)"},
		"KOSPEECH_NUM_PARALLEL": {"KOSPEECH_NUM_PARALLEL", NumParallel(), "Maximum concurrent forward passes (default 1)"},
		"KOSPEECH_MAX_QUEUE":    {"KOSPEECH_MAX_QUEUE", MaxQueue(), "Maximum queued recognition requests before shedding load (default 128)"},
		"KOSPEECH_ORIGINS":      {"KOSPEECH_ORIGINS", AllowedOrigins(), "Additional allowed CORS origins, comma separated"},
	}
}

// Values maps variable names to their effective values, for logging at
// startup.
func Values() map[string]any {
	vals := make(map[string]any)
	for k, v := range AsMap() {
		vals[k] = v.Value
	}
	return vals
}

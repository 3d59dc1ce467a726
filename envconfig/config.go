// Package envconfig reads runtime configuration from KOSPEECH_* environment
// variables. Every getter normalizes and validates its value and falls back to
// a sensible default, so callers never see an invalid setting.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Host returns the scheme and host for the recognition server.
// Configured via KOSPEECH_HOST. Default: http://127.0.0.1:7733
func Host() *url.URL {
	defaultPort := "7733"

	s := Var("KOSPEECH_HOST")
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the CORS origins accepted by the server.
// Configured via KOSPEECH_ORIGINS (comma separated), always including the
// localhost defaults.
func AllowedOrigins() (origins []string) {
	if s := Var("KOSPEECH_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// Models returns the directory model packages are resolved against.
// Configured via KOSPEECH_MODELS. Default: $HOME/.kospeech/models
func Models() string {
	if s := Var("KOSPEECH_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".kospeech", "models")
}

// NumThreads returns the goroutine fan-out used for tensor math.
// Configured via KOSPEECH_NUM_THREADS. 0 means one worker per CPU.
func NumThreads() int {
	if n := Uint("KOSPEECH_NUM_THREADS", 0)(); n > 0 {
		return int(n)
	}
	return runtime.NumCPU()
}

// MaxQueue returns how many recognition requests may wait for a forward pass
// before the server sheds load. Configured via KOSPEECH_MAX_QUEUE.
func MaxQueue() int {
	return int(Uint("KOSPEECH_MAX_QUEUE", 128)())
}

// NumParallel returns how many forward passes may run concurrently.
// Configured via KOSPEECH_NUM_PARALLEL.
func NumParallel() int {
	return int(Uint("KOSPEECH_NUM_PARALLEL", 1)())
}

// LogLevel returns the slog level.
// Configured via KOSPEECH_DEBUG: 0/false = INFO, 1/true = DEBUG, 2 = TRACE.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("KOSPEECH_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var returns an environment variable, stripped of surrounding quotes and
// whitespace.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

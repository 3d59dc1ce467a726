package envconfig

import (
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":               {"", "127.0.0.1:7733"},
		"only address":        {"1.2.3.4", "1.2.3.4:7733"},
		"only port":           {":1234", ":1234"},
		"address and port":    {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":            {"example.com", "example.com:7733"},
		"hostname and port":   {"example.com:1234", "example.com:1234"},
		"zero port":           {":0", ":0"},
		"too large port":      {":66000", ":7733"},
		"too small port":      {":-1", ":7733"},
		"ipv6 localhost":      {"[::1]", "[::1]:7733"},
		"ipv6 world open":     {"[::]", "[::]:7733"},
		"ipv6 no brackets":    {"::1", "[::1]:7733"},
		"extra space":         {" 1.2.3.4 ", "1.2.3.4:7733"},
		"extra quotes":        {"\"1.2.3.4\"", "1.2.3.4:7733"},
		"extra space+quotes":  {" \" 1.2.3.4 \" ", "1.2.3.4:7733"},
		"extra single quotes": {"'1.2.3.4'", "1.2.3.4:7733"},
		"http":                {"http://1.2.3.4", "1.2.3.4:80"},
		"http port":           {"http://1.2.3.4:4321", "1.2.3.4:4321"},
		"https":               {"https://1.2.3.4", "1.2.3.4:443"},
		"https port":          {"https://1.2.3.4:4321", "1.2.3.4:4321"},
		"proxy path":          {"https://example.com/kospeech", "example.com:443"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("KOSPEECH_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("%s: expected %s, got %s", name, tt.expect, host.Host)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	cases := []struct {
		value  string
		expect []string
	}{
		{"", []string{
			"http://localhost",
			"https://localhost",
			"http://localhost:*",
			"https://localhost:*",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://127.0.0.1:*",
			"https://127.0.0.1:*",
			"http://0.0.0.0",
			"https://0.0.0.0",
			"http://0.0.0.0:*",
			"https://0.0.0.0:*",
		}},
		{"http://10.0.0.1", []string{
			"http://10.0.0.1",
			"http://localhost",
			"https://localhost",
			"http://localhost:*",
			"https://localhost:*",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://127.0.0.1:*",
			"https://127.0.0.1:*",
			"http://0.0.0.0",
			"https://0.0.0.0",
			"http://0.0.0.0:*",
			"https://0.0.0.0:*",
		}},
		{"http://172.16.0.1,https://192.168.0.1", []string{
			"http://172.16.0.1",
			"https://192.168.0.1",
			"http://localhost",
			"https://localhost",
			"http://localhost:*",
			"https://localhost:*",
			"http://127.0.0.1",
			"https://127.0.0.1",
			"http://127.0.0.1:*",
			"https://127.0.0.1:*",
			"http://0.0.0.0",
			"https://0.0.0.0",
			"http://0.0.0.0:*",
			"https://0.0.0.0:*",
		}},
	}

	for _, tt := range cases {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("KOSPEECH_ORIGINS", tt.value)

			if diff := cmp.Diff(AllowedOrigins(), tt.expect); diff != "" {
				t.Errorf("%s: mismatch (-want +got):\n%s", tt.value, diff)
			}
		})
	}
}

func TestBool(t *testing.T) {
	cases := map[string]bool{
		"":      false,
		"true":  true,
		"false": false,
		"1":     true,
		"0":     false,
		// invalid values are treated as set
		"on": true,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("KOSPEECH_BOOL", k)
			if b := Bool("KOSPEECH_BOOL")(); b != v {
				t.Errorf("%s: expected %t, got %t", k, v, b)
			}
		})
	}
}

func TestUint(t *testing.T) {
	cases := map[string]uint{
		"0":    0,
		"1":    1,
		"-1":   1234,
		"abc":  1234,
		"9999": 9999,
		"":     1234,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("KOSPEECH_UINT", k)
			if i := Uint("KOSPEECH_UINT", 1234)(); i != v {
				t.Errorf("%s: expected %d, got %d", k, v, i)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"true":  slog.LevelDebug,
		"1":     slog.LevelDebug,
		"2":     slog.LevelDebug - 4,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("KOSPEECH_DEBUG", k)
			if l := LogLevel(); l != v {
				t.Errorf("%s: expected %d, got %d", k, v, l)
			}
		})
	}
}

package main

// ---------------------------------------------------------------------------
// helpers.go — TTY detection, color, error helpers, env-based config
// ---------------------------------------------------------------------------

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pixelatedempathy/aegis/internal/core"
)

// ---------------------------------------------------------------------------
// TTY / color helpers
// ---------------------------------------------------------------------------

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func dim(s string) string    { return ansi("\033[90m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Env-based configuration
//
// Environment variables:
//   AEGIS_CONFIG  — default config file path
//   AEGIS_HOST    — API host override
//   AEGIS_PORT    — API port override
//   AEGIS_API_KEY — API key for authentication
// ---------------------------------------------------------------------------

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != "configs/default.yaml" {
		return flagVal
	}
	if e := os.Getenv("AEGIS_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

// envHost returns the host, preferring flag > env.
func envHost(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return os.Getenv("AEGIS_HOST")
}

// envPort returns the port, preferring flag > env.
func envPort(flagVal int) int {
	if flagVal != 0 {
		return flagVal
	}
	if e := os.Getenv("AEGIS_PORT"); e != "" {
		if p, err := strconv.Atoi(e); err == nil {
			return p
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// API helpers — with auth and env support
// ---------------------------------------------------------------------------

func apiBase(configPath, hostOverride string, portOverride int) string {
	host := "127.0.0.1"
	port := 1790

	cfg, err := core.LoadConfig(configPath)
	if err == nil && cfg != nil {
		if cfg.Server.Host != "" && cfg.Server.Host != "0.0.0.0" {
			host = cfg.Server.Host
		}
		if cfg.Server.Port != 0 {
			port = cfg.Server.Port
		}
	}

	if hostOverride != "" {
		host = hostOverride
	}
	if portOverride != 0 {
		port = portOverride
	}

	return fmt.Sprintf("http://%s:%d", host, port)
}

// resolveAPIKey returns the API key from flag, env, or config (in that order).
func resolveAPIKey(flagKey, configPath string) string {
	if flagKey != "" {
		return flagKey
	}
	if envKey := os.Getenv("AEGIS_API_KEY"); envKey != "" {
		return envKey
	}
	cfg, err := core.LoadConfig(configPath)
	if err == nil && cfg != nil && len(cfg.Server.APIKeys) > 0 {
		return cfg.Server.APIKeys[0]
	}
	return ""
}

// ---------------------------------------------------------------------------
// Suggest — typo correction for unknown commands
// ---------------------------------------------------------------------------

func suggest(input string) string {
	cmds := []string{"up", "status", "responses", "submit", "version", "help"}
	input = strings.ToLower(input)
	for _, c := range cmds {
		if strings.HasPrefix(c, input) || strings.HasPrefix(input, c) {
			return c
		}
	}
	for _, c := range cmds {
		if len(c) == len(input) {
			diff := 0
			for i := range c {
				if c[i] != input[i] {
					diff++
				}
			}
			if diff <= 1 {
				return c
			}
		}
	}
	return ""
}

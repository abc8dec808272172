package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-router/internal/config"
	"github.com/2389/coven-router/internal/credential"
)

func init() {
	color.NoColor = true
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_ROUTER_CONFIG", "/etc/coven/router.toml")
	assert.Equal(t, "/etc/coven/router.toml", getConfigPath())

	t.Setenv("COVEN_ROUTER_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven", "router.yaml"), getConfigPath())

	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "/home/op")
	assert.Equal(t, filepath.Join("/home/op", ".config", "coven", "router.yaml"), getConfigPath())
}

func TestLocalAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5000", localAddr("0.0.0.0:5000"))
	assert.Equal(t, "127.0.0.1:5000", localAddr(":5000"))
	assert.Equal(t, "10.0.0.2:5000", localAddr("10.0.0.2:5000"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "router").Info("state changed", "to", "running")
	logger.WithGroup("req").Warn("slow", "ms", 250)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF state changed component=router to=running")
	assert.Contains(t, out, "WRN slow req.ms=250")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestColorHandler_RedactsCredential(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Info("obtained channel credential", "credential", &credential.Credential{AccessToken: "super-secret", TokenType: "Bearer"})
	assert.NotContains(t, buf.String(), "super-secret")
}

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestPrintStartup(t *testing.T) {
	cfg, err := config.Parse("auth:\n  app_id: a\n  app_secret: s\nserver:\n  grpc_addr: \"127.0.0.1:50052\"\n", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	var buf bytes.Buffer
	printStartup(&buf, "/tmp/router.yaml", cfg)
	out := buf.String()
	assert.Contains(t, out, "/tmp/router.yaml")
	assert.Contains(t, out, "single-instance")
	assert.Contains(t, out, "127.0.0.1:50052")
	assert.Contains(t, out, "disabled")
}

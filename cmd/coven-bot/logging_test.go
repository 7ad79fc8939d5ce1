// ABOUTME: Tests for the colorized log handler and stats printer
// ABOUTME: Colors are disabled so output can be compared as plain text

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-bot/internal/plugins"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	logger := slog.New(&colorHandler{out: &out, mu: &sync.Mutex{}, level: slog.LevelInfo})

	logger.With("component", "registry").Info("=== HANDLER REGISTERED ===", "handler_id", "ping")
	logger.Debug("hidden")

	line := out.String()
	assert.Contains(t, line, "INF === HANDLER REGISTERED ===")
	assert.Contains(t, line, "component=registry")
	assert.Contains(t, line, "handler_id=ping")
	assert.NotContains(t, line, "hidden")
	assert.Equal(t, 1, strings.Count(line, "\n"))
}

func TestPrintStats(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	printStats(&out, plugins.Stats{TotalHandlers: 4, TotalCommands: 6, TotalScanners: 1, Dispatched: 9})

	assert.Contains(t, out.String(), "Handlers:    4 (6 commands, 1 scanners)")
	assert.Contains(t, out.String(), "Dispatched:  9")
}

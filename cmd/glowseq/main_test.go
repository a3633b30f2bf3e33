package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libdb.so/glowseq"
	"libdb.so/glowseq/internal/leddriver"
)

const testConfig = `
channels = 1

[[sequence]]
name = "pulse"

  [[sequence.step]]
  targets = [4096]
  fade = "50ms"
`

func TestReadCommands(t *testing.T) {
	cfg, err := glowseq.ParseConfig(strings.NewReader(testConfig))
	require.NoError(t, err)

	logger := slog.New(slog.DiscardHandler)
	d, err := glowseq.NewDaemon(cfg, logger,
		glowseq.WithDriver(leddriver.NewRecorder(cfg.Channels, 1, nil)))
	require.NoError(t, err)

	var out bytes.Buffer
	readCommands(strings.NewReader(strings.Join([]string{
		"list",
		"",
		"play pulse",
		"play",
		"play missing",
		"dismiss",
		"status",
		"reboot",
	}, "\n")), &out, d)

	assert.Equal(t, strings.Join([]string{
		"pulse",
		"error: usage: play <sequence>",
		`error: "missing": unknown sequence`,
		"idle, frame [0]",
		`error: unknown command "reboot"`,
		"",
	}, "\n"), out.String())
}

package util

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRenderTableAlignsColoredCells(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "NAME", Key: "name"}, {Header: "ID", Key: "id"}}, []map[string]interface{}{
		{"name": color.CyanString("alpha"), "id": 1},
		{"name": "b", "id": 22},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 4)
	assert.Equal(t, "NAME  ID", lines[0])
	assert.Equal(t, "----- --", lines[1])
	assert.Equal(t, "b     22", lines[3])
	assert.Contains(t, lines[2], "alpha\x1b[0m 1")
}

func TestRenderTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderTable(&buf, []TableColumn{{Header: "NAME", Key: "name"}}, nil)
	assert.Equal(t, "No data to display\n", buf.String())
}

func TestLineWriterSplitsAndKeepsTail(t *testing.T) {
	var logs bytes.Buffer
	w := NewLineWriter(slog.New(slog.NewTextHandler(&logs, nil)), slog.LevelInfo, 2)

	_, _ = w.Write([]byte("one\ntw"))
	_, _ = w.Write([]byte("o\r\nthree"))
	assert.Equal(t, "one\ntwo", w.Tail())

	w.Flush()
	assert.Equal(t, "two\nthree", w.Tail())
	assert.Equal(t, 3, strings.Count(logs.String(), "msg="))
}

func TestSpinnerQuietPrintsLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, true, "Uploading")
	s.Success("Uploaded")
	assert.Equal(t, "Uploading...\n✓ Uploaded\n", buf.String())
}

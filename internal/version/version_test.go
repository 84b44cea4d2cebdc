package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	info := Current()
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, "unknown", info.FormattedTime)
}

func TestFormatBuildTime(t *testing.T) {
	old := BuildTime
	defer func() { BuildTime = old }()

	BuildTime = "2025-03-01T10:20:30Z"
	assert.Equal(t, "Sat Mar 1 10:20:30 2025", formatBuildTime())

	BuildTime = "yesterday"
	assert.Equal(t, "yesterday", formatBuildTime())
}

func TestUserAgent(t *testing.T) {
	assert.Contains(t, UserAgent(), "grabscreen/"+Version)
}

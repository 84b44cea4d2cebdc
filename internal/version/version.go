package version

import (
	"fmt"
	"runtime"
	"time"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	CommitID  = "unknown"
)

// Info describes this build.
type Info struct {
	Version       string
	GitCommit     string
	BuildTime     string
	FormattedTime string
	GoVersion     string
	OS            string
	Arch          string
}

// formatBuildTime returns a nicely formatted build time
func formatBuildTime() string {
	if BuildTime == "unknown" {
		return BuildTime
	}
	t, err := time.Parse(time.RFC3339, BuildTime)
	if err != nil {
		return BuildTime
	}
	return t.Format("Mon Jan 2 15:04:05 2006")
}

// Current returns the build information of the running binary.
func Current() Info {
	return Info{
		Version:       Version,
		GitCommit:     CommitID,
		BuildTime:     BuildTime,
		FormattedTime: formatBuildTime(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}
}

// UserAgent is sent with every API request.
func UserAgent() string {
	return fmt.Sprintf("grabscreen/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("GRABSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("api.endpoint", "GRABSCREEN_API_ENDPOINT", "API_ENDPOINT")
	v.BindEnv("capture.ffmpeg", "GRABSCREEN_FFMPEG", "FFMPEG_PATH")
	v.BindEnv("capture.screen_input", "GRABSCREEN_SCREEN_INPUT", "DISPLAY")
	v.BindEnv("upload.spool_dir", "GRABSCREEN_SPOOL_DIR")
	v.BindEnv("state.path", "GRABSCREEN_STATE_PATH")
	v.BindEnv("preview.addr", "GRABSCREEN_PREVIEW_ADDR")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		filepath.Join(xdg.ConfigHome, "grabscreen"),
		"/etc/grabscreen",
	}

	for _, path := range configPaths {
		v.AddConfigPath(os.ExpandEnv(path))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.endpoint", "http://localhost:5000")
	v.SetDefault("api.timeout", 2*time.Minute)

	v.SetDefault("recording.fps", 30)
	v.SetDefault("recording.fallback_width", 1280)
	v.SetDefault("recording.fallback_height", 720)
	v.SetDefault("recording.jpeg_quality", 80)
	v.SetDefault("recording.mode", "clock")

	v.SetDefault("overlay.width", 0.25)
	v.SetDefault("overlay.margin", 0.02)

	v.SetDefault("capture.driver", "ffmpeg")
	v.SetDefault("capture.ffmpeg", "ffmpeg")
	v.SetDefault("capture.screen_size", "1920x1080")
	v.SetDefault("capture.camera_size", "640x480")
	v.SetDefault("capture.camera", "")
	v.SetDefault("capture.microphone", "")
	v.SetDefault("capture.startup_timeout", 10*time.Second)
	v.SetDefault("capture.screen_input", ":0.0")
	v.SetDefault("capture.screen_format", defaultScreenFormat())
	v.SetDefault("capture.camera_format", defaultCameraFormat())
	v.SetDefault("capture.audio_format", defaultAudioFormat())

	v.SetDefault("upload.keep_failed", true)
	v.SetDefault("upload.spool_dir", filepath.Join(xdg.DataHome, "grabscreen", "unsent"))

	v.SetDefault("state.path", filepath.Join(xdg.StateHome, "grabscreen", "state.toml"))

	v.SetDefault("preview.addr", "")
}

// Viper exposes the underlying instance so commands can bind flags to keys.
func Viper() *viper.Viper {
	return v
}

// GetAPIEndpoint returns the base URL of the recordings server
func GetAPIEndpoint() string {
	return v.GetString("api.endpoint")
}

// GetAPITimeout returns the per-request timeout for API calls
func GetAPITimeout() time.Duration {
	return v.GetDuration("api.timeout")
}

// GetFPS returns the composited output frame rate
func GetFPS() int {
	if fps := v.GetInt("recording.fps"); fps > 0 {
		return fps
	}
	return 30
}

// GetFallbackSize returns the output size used when the screen size is unknown
func GetFallbackSize() (int, int) {
	return v.GetInt("recording.fallback_width"), v.GetInt("recording.fallback_height")
}

// GetJPEGQuality returns the per-frame encoder quality (1-100)
func GetJPEGQuality() int {
	return v.GetInt("recording.jpeg_quality")
}

// GetCompositorMode returns "clock" or "screen"
func GetCompositorMode() string {
	return v.GetString("recording.mode")
}

// GetOverlayWidth returns the initial webcam overlay width as a fraction of the output
func GetOverlayWidth() float64 {
	return v.GetFloat64("overlay.width")
}

// GetOverlayMargin returns the initial overlay margin as a fraction of the output
func GetOverlayMargin() float64 {
	return v.GetFloat64("overlay.margin")
}

// GetCaptureDriver returns "ffmpeg" or "pattern"
func GetCaptureDriver() string {
	return v.GetString("capture.driver")
}

// GetScreenSize returns the capture size requested from the display, as WxH
func GetScreenSize() string {
	return v.GetString("capture.screen_size")
}

// GetCameraSize returns the capture size requested from the camera, as WxH
func GetCameraSize() string {
	return v.GetString("capture.camera_size")
}

// GetCamera returns the preferred camera id or label, empty for the default
func GetCamera() string {
	return v.GetString("capture.camera")
}

// GetMicrophone returns the preferred microphone id or label, empty for the default
func GetMicrophone() string {
	return v.GetString("capture.microphone")
}

// GetStartupTimeout bounds how long a device may take to deliver its first data
func GetStartupTimeout() time.Duration {
	return v.GetDuration("capture.startup_timeout")
}

// GetFFmpegPath returns the ffmpeg binary used for device capture
func GetFFmpegPath() string {
	return v.GetString("capture.ffmpeg")
}

// GetScreenInput returns the ffmpeg input name for the display
func GetScreenInput() string {
	return v.GetString("capture.screen_input")
}

// GetScreenFormat returns the ffmpeg demuxer used for display capture
func GetScreenFormat() string {
	return v.GetString("capture.screen_format")
}

// GetCameraFormat returns the ffmpeg demuxer used for camera capture
func GetCameraFormat() string {
	return v.GetString("capture.camera_format")
}

// GetAudioFormat returns the ffmpeg demuxer used for microphone/system audio
func GetAudioFormat() string {
	return v.GetString("capture.audio_format")
}

// KeepFailedUploads reports whether recordings that failed to upload are spooled
func KeepFailedUploads() bool {
	return v.GetBool("upload.keep_failed")
}

// GetSpoolDir returns where failed uploads are kept
func GetSpoolDir() string {
	return v.GetString("upload.spool_dir")
}

// GetStatePath returns the TOML file holding the session cookie
func GetStatePath() string {
	return v.GetString("state.path")
}

// GetPreviewAddr returns the listen address of the live preview server, empty when disabled
func GetPreviewAddr() string {
	return v.GetString("preview.addr")
}

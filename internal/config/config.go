// Package config provides a viper-backed Config for the streaming server,
// following the teacher's internal/config/config.go: a mapstructure-tagged
// struct, Default(), Load(path) layering a config file under env var
// overrides, and Save for round-tripping.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds every top-level setting for a streamhost instance: display
// selection, codec choices, and the signaling/network surface spec.md §6
// and §9 describe.
type Config struct {
	// Display capture (C2, spec.md §4.2).
	DisplayIndex int `mapstructure:"display_index"`

	// Video encoder (C3, spec.md §4.3).
	VideoCodec        string `mapstructure:"video_codec"` // "h264" or "h265"
	VideoBitrateBps    int    `mapstructure:"video_bitrate_bps"`
	VideoInputSlots    int    `mapstructure:"video_input_slots"` // power of two
	VideoMTU           int    `mapstructure:"video_mtu"`

	// Audio capture + encode (C4, spec.md §4.4).
	AudioBitrateBps        int `mapstructure:"audio_bitrate_bps"`
	AudioExpectedLossPct   int `mapstructure:"audio_expected_loss_pct"`
	AudioComplexity        int `mapstructure:"audio_complexity"`

	// Reorder buffer (C6, spec.md §4.6).
	ReorderMaxUnordered int `mapstructure:"reorder_max_unordered"`

	// Bandwidth estimation (C7, spec.md §4.7).
	InitialBandwidthBps int `mapstructure:"initial_bandwidth_bps"`

	// Signaling (§6, §9).
	SignalingListenAddr string `mapstructure:"signaling_listen_addr"`
	ICEServers          []string `mapstructure:"ice_servers"`

	// Logging.
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Default returns the configuration a fresh install starts from.
func Default() *Config {
	return &Config{
		DisplayIndex: 0,

		VideoCodec:      "h264",
		VideoBitrateBps: 4_000_000,
		VideoInputSlots: 4,
		VideoMTU:        1200,

		AudioBitrateBps:      64_000,
		AudioExpectedLossPct: 0,
		AudioComplexity:      9,

		ReorderMaxUnordered: 64,

		InitialBandwidthBps: 2_500_000,

		SignalingListenAddr: ":8443",
		ICEServers:          []string{"stun:stun.l.google.com:19302"},

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads cfgFile (or the default search path) into a Config seeded
// from Default, applying BREEZE_-style env var overrides under the
// STREAMHOST_ prefix.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("streamhost")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("STREAMHOST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the invariants the media pipeline needs before it
// will accept a Config (power-of-two slot counts per internal/conveyor,
// Opus's [0,100]/[0,10] knob ranges per spec.md §4.4).
func (c *Config) Validate() error {
	if c.VideoInputSlots <= 0 || c.VideoInputSlots&(c.VideoInputSlots-1) != 0 {
		return fmt.Errorf("config: video_input_slots must be a power of two, got %d", c.VideoInputSlots)
	}
	if c.VideoCodec != "h264" && c.VideoCodec != "h265" {
		return fmt.Errorf("config: video_codec must be h264 or h265, got %q", c.VideoCodec)
	}
	if c.AudioExpectedLossPct < 0 || c.AudioExpectedLossPct > 100 {
		return fmt.Errorf("config: audio_expected_loss_pct out of range: %d", c.AudioExpectedLossPct)
	}
	if c.AudioComplexity < 0 || c.AudioComplexity > 10 {
		return fmt.Errorf("config: audio_complexity out of range: %d", c.AudioComplexity)
	}
	return nil
}

// Save writes cfg to its default location.
func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes cfg as YAML to cfgFile, or the default config path if empty.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("display_index", cfg.DisplayIndex)
	viper.Set("video_codec", cfg.VideoCodec)
	viper.Set("video_bitrate_bps", cfg.VideoBitrateBps)
	viper.Set("video_input_slots", cfg.VideoInputSlots)
	viper.Set("video_mtu", cfg.VideoMTU)
	viper.Set("audio_bitrate_bps", cfg.AudioBitrateBps)
	viper.Set("audio_expected_loss_pct", cfg.AudioExpectedLossPct)
	viper.Set("audio_complexity", cfg.AudioComplexity)
	viper.Set("reorder_max_unordered", cfg.ReorderMaxUnordered)
	viper.Set("initial_bandwidth_bps", cfg.InitialBandwidthBps)
	viper.Set("signaling_listen_addr", cfg.SignalingListenAddr)
	viper.Set("ice_servers", cfg.ICEServers)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "streamhost.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "streamhost")
	case "darwin":
		return "/Library/Application Support/streamhost"
	default:
		return "/etc/streamhost"
	}
}

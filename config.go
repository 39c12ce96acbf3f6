package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	UI struct {
		Color     string `mapstructure:"color"`
		ColorMode string `mapstructure:"color_mode"`
		MaxWidth  int    `mapstructure:"max_width"`
	} `mapstructure:"ui"`
	Artwork struct {
		Enabled      bool `mapstructure:"enabled"`
		Padding      int  `mapstructure:"padding"`
		WidthPixels  int  `mapstructure:"width_pixels"`
		WidthColumns int  `mapstructure:"width_columns"`
	} `mapstructure:"artwork"`
	Text struct {
		MaxLengthWithArt  int `mapstructure:"max_length_with_art"`
		MaxLengthNoArt    int `mapstructure:"max_length_no_art"`
		DescriptionLength int `mapstructure:"description_length"`
	} `mapstructure:"text"`
	Timing struct {
		UIRefreshMs int `mapstructure:"ui_refresh_ms"`
		DataFetchMs int `mapstructure:"data_fetch_ms"`
	} `mapstructure:"timing"`
	Player struct {
		Backend     string  `mapstructure:"backend"`
		MPVPath     string  `mapstructure:"mpv_path"`
		App         string  `mapstructure:"app"`
		Volume      float64 `mapstructure:"volume"`
		VolumeStep  float64 `mapstructure:"volume_step"`
		SeekStep    float64 `mapstructure:"seek_step"`
		Wrap        bool    `mapstructure:"wrap"`
		AutoAdvance bool    `mapstructure:"auto_advance"`
	} `mapstructure:"player"`
	Library struct {
		Dir        string `mapstructure:"dir"`
		Watch      bool   `mapstructure:"watch"`
		CatalogURL string `mapstructure:"catalog_url"`
	} `mapstructure:"library"`
	Remote struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"remote"`
	Log struct {
		File string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// defaultValues is the single source of defaults for viper and for repairs
var defaultValues = map[string]interface{}{
	"ui.color":                 "2",
	"ui.color_mode":            "auto",
	"ui.max_width":             45,
	"artwork.enabled":          true,
	"artwork.padding":          16,
	"artwork.width_pixels":     300,
	"artwork.width_columns":    13,
	"text.max_length_with_art": 22,
	"text.max_length_no_art":   36,
	"text.description_length":  30,
	"timing.ui_refresh_ms":     100,
	"timing.data_fetch_ms":     1000,
	"player.backend":           "mpv",
	"player.mpv_path":          "mpv",
	"player.app":               "Music",
	"player.volume":            1.0,
	"player.volume_step":       0.05,
	"player.seek_step":         5.0,
	"player.wrap":              true,
	"player.auto_advance":      false,
	"library.dir":              "~/Music",
	"library.watch":            true,
	"library.catalog_url":      "",
	"remote.listen":            "",
	"log.file":                 "",
}

// SafeConfig wraps Config with thread-safe access
type SafeConfig struct {
	mu  sync.RWMutex
	cfg Config
}

// Get returns a copy of the current config (thread-safe read)
func (sc *SafeConfig) Get() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cfg
}

// Set updates the config (thread-safe write)
func (sc *SafeConfig) Set(cfg Config) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cfg = cfg
}

var config = &SafeConfig{}

// Config file changed notification
type configReloadMsg struct{}

var configChangeChan = make(chan struct{}, 1)

// Watch for config file changes
func watchConfigCmd() tea.Cmd {
	return func() tea.Msg {
		<-configChangeChan
		return configReloadMsg{}
	}
}

// configError describes one invalid setting
type configError struct {
	field   string
	message string
}

func (e configError) Error() string {
	return fmt.Sprintf("%s: %s", e.field, e.message)
}

var (
	ansiColorPattern = regexp.MustCompile(`^[0-9]{1,3}$`)
	hexColorPattern  = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// isValidColor accepts ANSI codes 0-255 and #RGB/#RRGGBB hex colors
func isValidColor(color string) bool {
	if hexColorPattern.MatchString(color) {
		return true
	}
	if !ansiColorPattern.MatchString(color) {
		return false
	}
	var n int
	fmt.Sscanf(color, "%d", &n)
	return n <= 255
}

// validateConfig collects every invalid field
func validateConfig(cfg *Config) []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, configError{field: field, message: fmt.Sprintf(format, args...)})
	}

	if !isValidColor(cfg.UI.Color) {
		add("ui.color", "invalid color format '%s'", cfg.UI.Color)
	}
	if cfg.UI.ColorMode != "auto" && cfg.UI.ColorMode != "manual" {
		add("ui.color_mode", "must be 'auto' or 'manual' (got '%s')", cfg.UI.ColorMode)
	}
	if cfg.UI.MaxWidth < 20 {
		add("ui.max_width", "must be at least 20 (got %d)", cfg.UI.MaxWidth)
	}
	if cfg.Artwork.Padding < 0 || (cfg.UI.MaxWidth >= 20 && cfg.Artwork.Padding >= cfg.UI.MaxWidth) {
		add("artwork.padding", "must be between 0 and max_width (got %d)", cfg.Artwork.Padding)
	}
	if cfg.Artwork.WidthPixels < 16 || cfg.Artwork.WidthPixels > 2000 {
		add("artwork.width_pixels", "must be between 16 and 2000 (got %d)", cfg.Artwork.WidthPixels)
	}
	if cfg.Artwork.WidthColumns < 1 || cfg.Artwork.WidthColumns > 100 {
		add("artwork.width_columns", "must be between 1 and 100 (got %d)", cfg.Artwork.WidthColumns)
	}
	if cfg.Text.MaxLengthWithArt < 5 || cfg.Text.MaxLengthWithArt > 200 {
		add("text.max_length_with_art", "must be between 5 and 200 (got %d)", cfg.Text.MaxLengthWithArt)
	}
	if cfg.Text.MaxLengthNoArt < 5 || cfg.Text.MaxLengthNoArt > 200 {
		add("text.max_length_no_art", "must be between 5 and 200 (got %d)", cfg.Text.MaxLengthNoArt)
	}
	if cfg.Text.DescriptionLength < 0 {
		add("text.description_length", "must not be negative (got %d)", cfg.Text.DescriptionLength)
	}
	if cfg.Timing.UIRefreshMs < 10 || cfg.Timing.UIRefreshMs > 5000 {
		add("timing.ui_refresh_ms", "must be between 10 and 5000 (got %d)", cfg.Timing.UIRefreshMs)
	}
	if cfg.Timing.DataFetchMs < 100 || cfg.Timing.DataFetchMs > 60000 {
		add("timing.data_fetch_ms", "must be between 100 and 60000 (got %d)", cfg.Timing.DataFetchMs)
	}
	if cfg.Player.Backend != "mpv" && cfg.Player.Backend != "system" {
		add("player.backend", "must be 'mpv' or 'system' (got '%s')", cfg.Player.Backend)
	}
	if cfg.Player.Volume < 0 || cfg.Player.Volume > 1 {
		add("player.volume", "must be between 0 and 1 (got %g)", cfg.Player.Volume)
	}
	if cfg.Player.VolumeStep <= 0 || cfg.Player.VolumeStep > 1 {
		add("player.volume_step", "must be in (0, 1] (got %g)", cfg.Player.VolumeStep)
	}
	if cfg.Player.SeekStep <= 0 || cfg.Player.SeekStep > 100 {
		add("player.seek_step", "must be in (0, 100] (got %g)", cfg.Player.SeekStep)
	}
	return errs
}

// applyDefaultsForInvalidFields resets each field named in errs to its default
func applyDefaultsForInvalidFields(cfg *Config, errs []error) {
	for _, err := range errs {
		ce, ok := err.(configError)
		if !ok {
			continue
		}
		def := defaultValues[ce.field]
		switch ce.field {
		case "ui.color":
			cfg.UI.Color = def.(string)
		case "ui.color_mode":
			cfg.UI.ColorMode = def.(string)
		case "ui.max_width":
			cfg.UI.MaxWidth = def.(int)
		case "artwork.padding":
			cfg.Artwork.Padding = def.(int)
		case "artwork.width_pixels":
			cfg.Artwork.WidthPixels = def.(int)
		case "artwork.width_columns":
			cfg.Artwork.WidthColumns = def.(int)
		case "text.max_length_with_art":
			cfg.Text.MaxLengthWithArt = def.(int)
		case "text.max_length_no_art":
			cfg.Text.MaxLengthNoArt = def.(int)
		case "text.description_length":
			cfg.Text.DescriptionLength = def.(int)
		case "timing.ui_refresh_ms":
			cfg.Timing.UIRefreshMs = def.(int)
		case "timing.data_fetch_ms":
			cfg.Timing.DataFetchMs = def.(int)
		case "player.backend":
			cfg.Player.Backend = def.(string)
		case "player.volume":
			cfg.Player.Volume = def.(float64)
		case "player.volume_step":
			cfg.Player.VolumeStep = def.(float64)
		case "player.seek_step":
			cfg.Player.SeekStep = def.(float64)
		}
	}
	// Padding is checked against max_width, which may just have been reset
	if cfg.Artwork.Padding >= cfg.UI.MaxWidth {
		cfg.Artwork.Padding = defaultValues["artwork.padding"].(int)
	}
}

// printConfigWarnings reports invalid settings on stderr
func printConfigWarnings(errs []error) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Warning: %d invalid config value(s), using defaults:\n", len(errs))
	for _, err := range errs {
		fmt.Fprintf(os.Stderr, "  - %v\n", err)
	}
}

// loadConfig unmarshals the current viper state and repairs invalid fields
func loadConfig(v *viper.Viper) (Config, []error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, []error{fmt.Errorf("parse config: %w", err)}
	}
	if strings.HasPrefix(cfg.Library.Dir, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Library.Dir = filepath.Join(home, strings.TrimPrefix(cfg.Library.Dir, "~"))
		}
	}
	errs := validateConfig(&cfg)
	applyDefaultsForInvalidFields(&cfg, errs)
	return cfg, errs
}

// configFlags declares the command-line flags bound onto config keys
func configFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tunein", pflag.ContinueOnError)
	fs.StringP("color", "c", "2", "Set the desired color (name or hex)")
	fs.Bool("no-artwork", false, "Disable album artwork display")
	fs.String("backend", "mpv", "Audio output backend: mpv or system")
	fs.String("catalog", "", "Read songs from a music backend at this URL instead of a directory")
	fs.String("remote", "", "Serve the remote control API on this address (e.g. 127.0.0.1:8085)")
	fs.String("log", "", "Write logs to this file")
	fs.String("config", "", "Read configuration from this file")
	return fs
}

// initConfig builds the viper instance from defaults, the config file, the
// environment and flags, and starts watching the file
func initConfig(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaultValues {
		v.SetDefault(key, value)
	}
	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		// Set config file location following XDG standard
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		configHome := os.Getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			if homeDir, err := os.UserHomeDir(); err == nil {
				configHome = filepath.Join(homeDir, ".config")
			}
		}
		if configHome != "" {
			v.AddConfigPath(filepath.Join(configHome, "tunein"))
		}
	}

	// Environment variable support with TUNEIN_ prefix
	v.SetEnvPrefix("TUNEIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"ui.color":            "color",
		"player.backend":      "backend",
		"library.catalog_url": "catalog",
		"remote.listen":       "remote",
		"log.file":            "log",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	if noArt, _ := fs.GetBool("no-artwork"); noArt {
		v.Set("artwork.enabled", false)
	}
	if fs.NArg() > 0 {
		v.Set("library.dir", fs.Arg(0))
	}

	// Read config file (ignore error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file found but had errors
			fmt.Fprintf(os.Stderr, "Warning: Error reading config file: %v\n", err)
		}
	}

	cfg, errs := loadConfig(v)
	printConfigWarnings(errs)
	config.Set(cfg)

	// Watch for config file changes and live reload
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg, errs := loadConfig(v)
		printConfigWarnings(errs)
		config.Set(newCfg)
		select {
		case configChangeChan <- struct{}{}:
		default:
			// Channel full, skip notification
		}
	})
	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
	}
	return v, nil
}

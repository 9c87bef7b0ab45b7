// Package config loads the immutable runtime configuration from an INI file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultFileName = "canary-convert.ini"
	EnvPrefix       = "CANARY"
)

// Settings is the part of the configuration a worker process needs. It travels to
// each worker inside its job spec.
type Settings struct {
	ReportRate       int      `json:"report_rate"`
	CheckEvery       int      `json:"check_every"`
	WarningBatchSize int      `json:"warning_batch_size"`
	OutboxSize       int      `json:"outbox_size"`
	OutputBufferSize int      `json:"output_buffer_size"`
	CanaryIDFields   []string `json:"canary_id_fields"`
	EpicTextFields   []string `json:"epic_text_fields"`
	EpicIDFields     []string `json:"epic_id_fields"`
}

type Config struct {
	Path             string        `json:"path,omitempty"`
	CreateLogfile    bool          `json:"create_logfile"`
	LogfileTimestamp string        `json:"logfile_timestamp"`
	PollInterval     time.Duration `json:"poll_interval"`
	GracePeriod      time.Duration `json:"grace_period"`
	ChannelBuffer    int           `json:"channel_buffer"`
	RefreshInterval  time.Duration `json:"refresh_interval"`
	Settings         Settings      `json:"settings"`
}

var defaults = map[string]any{
	"main.create_logfile":           true,
	"main.logfile_timestamp":        "2006-01-02-15.04.05",
	"scheduler.poll_interval_ms":    500,
	"scheduler.grace_period_ms":     2000,
	"scheduler.channel_buffer":      64,
	"progress.report_rate":          10000,
	"progress.check_every":          100,
	"progress.warning_batch_size":   1000,
	"progress.outbox_size":          16,
	"progress.refresh_ms":           100,
	"write.output_buffer_size":      8192,
	"write_canary.autodetect_ids":   "Autodetect, NOTE_ID, Report_Number, Record_Id, Encounter_Number, Accession, Accession_Number, Microbiology_Number, *time",
	"read_epic.text_fields":         "NOTE_TEXT",
	"read_epic.autodetect_epic_ids": "Autodetect, NOTE_ID",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Default returns the built-in configuration.
func Default() Config {
	cfg, _ := fromViper(newViper(), "")
	return cfg
}

// Load reads path if it exists. A missing file yields the defaults (plus environment
// overrides); an unreadable or malformed one is an error.
func Load(path string) (Config, error) {
	v := newViper()
	target := strings.TrimSpace(path)
	if target != "" {
		v.SetConfigFile(target)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", target, err)
			}
			target = ""
		}
	}
	return fromViper(v, target)
}

func fromViper(v *viper.Viper, path string) (Config, error) {
	cfg := Config{
		Path:             path,
		CreateLogfile:    v.GetBool("main.create_logfile"),
		LogfileTimestamp: strings.TrimSpace(v.GetString("main.logfile_timestamp")),
		PollInterval:     time.Duration(v.GetInt("scheduler.poll_interval_ms")) * time.Millisecond,
		GracePeriod:      time.Duration(v.GetInt("scheduler.grace_period_ms")) * time.Millisecond,
		ChannelBuffer:    v.GetInt("scheduler.channel_buffer"),
		RefreshInterval:  time.Duration(v.GetInt("progress.refresh_ms")) * time.Millisecond,
		Settings: Settings{
			ReportRate:       v.GetInt("progress.report_rate"),
			CheckEvery:       v.GetInt("progress.check_every"),
			WarningBatchSize: v.GetInt("progress.warning_batch_size"),
			OutboxSize:       v.GetInt("progress.outbox_size"),
			OutputBufferSize: v.GetInt("write.output_buffer_size"),
			CanaryIDFields:   splitList(v.GetString("write_canary.autodetect_ids")),
			EpicTextFields:   splitList(v.GetString("read_epic.text_fields")),
			EpicIDFields:     splitList(v.GetString("read_epic.autodetect_epic_ids")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.LogfileTimestamp == "":
		return fmt.Errorf("main.logfile_timestamp must not be empty")
	case c.PollInterval <= 0:
		return fmt.Errorf("scheduler.poll_interval_ms must be > 0")
	case c.GracePeriod < 0:
		return fmt.Errorf("scheduler.grace_period_ms must be >= 0")
	case c.ChannelBuffer < 1:
		return fmt.Errorf("scheduler.channel_buffer must be >= 1")
	case c.RefreshInterval <= 0:
		return fmt.Errorf("progress.refresh_ms must be > 0")
	}
	return c.Settings.Validate()
}

func (s Settings) Validate() error {
	switch {
	case s.ReportRate < 1:
		return fmt.Errorf("progress.report_rate must be >= 1")
	case s.CheckEvery < 1:
		return fmt.Errorf("progress.check_every must be >= 1")
	case s.WarningBatchSize < 1:
		return fmt.Errorf("progress.warning_batch_size must be >= 1")
	case s.OutboxSize < 1:
		return fmt.Errorf("progress.outbox_size must be >= 1")
	case s.OutputBufferSize < 1:
		return fmt.Errorf("write.output_buffer_size must be >= 1")
	}
	return nil
}

// WriteDefault writes the default configuration to path. An existing file is left
// untouched unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	target := strings.TrimSpace(path)
	if target == "" {
		return fmt.Errorf("config path is required")
	}
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("config file already exists: %s", target)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	v := viper.New()
	v.SetConfigType("ini")
	for key, value := range defaults {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(target); err != nil {
		return fmt.Errorf("write config %s: %w", target, err)
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

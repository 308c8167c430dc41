// Package config loads the plain Config struct handed to the core at
// startup (SPEC_FULL.md §2.3): fields spec.md §6 names for the storage
// layout, fault injection, and modem defaults. Grounded on dittofs's
// pkg/config (Load/setupViper/readConfigFile), trimmed to this binary's much
// smaller surface: one file, flags > file > defaults, no database/telemetry
// sections.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/silvair/otaumcu/internal/faults"
	"github.com/silvair/otaumcu/internal/pagemem"
)

// FaultSpec is the file/flag representation of a faults.Spec, keyed by
// injection point name (faults.Point.String()).
type FaultSpec struct {
	Point      string `mapstructure:"point"`
	CallNumber int    `mapstructure:"call_number"`
	Status     uint8  `mapstructure:"status"`
	NoResponse bool   `mapstructure:"no_response"`
}

// ModelDesc mirrors protocol.ModelDesc for the config file's default_models
// list, so internal/config never imports internal/protocol.
type ModelDesc struct {
	ModelID uint16 `mapstructure:"model_id"`
}

// Config is the complete startup configuration; the core never re-reads it
// after construction.
type Config struct {
	AppDataPath  string `mapstructure:"app_data_path"`
	FirmwarePath string `mapstructure:"firmware_path"`
	SHA256Path   string `mapstructure:"sha256_path"`
	NVMPath      string `mapstructure:"nvm_path"`

	SupportedPageSize int `mapstructure:"supported_page_size"`
	MaxImageSize      int `mapstructure:"max_image_size"`

	ExpectedAppDataPath string `mapstructure:"expected_app_data_path"`

	Faults []FaultSpec `mapstructure:"faults"`

	DefaultModels []ModelDesc `mapstructure:"default_models"`

	LogLevel string `mapstructure:"log_level"`
	Cleanup  bool   `mapstructure:"cleanup"`

	BLELocalName string `mapstructure:"ble_local_name"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

var pointsByName = map[string]faults.Point{
	faults.OnPreValidation.String():     faults.OnPreValidation,
	faults.AfterPreValidation.String():  faults.AfterPreValidation,
	faults.OnPageCreateRequest.String(): faults.OnPageCreateRequest,
	faults.OnPageStoreRequest.String():  faults.OnPageStoreRequest,
	faults.OnPostValidation.String():    faults.OnPostValidation,
}

// ToRegistrySpec resolves the injection point name to a faults.Point and the
// response behaviour to a faults.Kind. Returns an error on an unknown point
// name, mirroring the teacher's fail-fast config validation.
func (f FaultSpec) ToRegistrySpec() (faults.Point, faults.Spec, error) {
	point, ok := pointsByName[f.Point]
	if !ok {
		return 0, faults.Spec{}, fmt.Errorf("config: unknown fault injection point %q", f.Point)
	}

	kind := faults.FaultWithStatus
	if f.NoResponse {
		kind = faults.NoResponse
	}

	callNumber := f.CallNumber
	if callNumber == 0 {
		callNumber = faults.AlwaysCallNumber
	}

	return point, faults.Spec{Kind: kind, CallNumber: callNumber, Status: f.Status}, nil
}

// Default returns the built-in defaults applied when a field is left unset
// by file/flags/env.
func Default() Config {
	return Config{
		AppDataPath:       "app_data.bin",
		FirmwarePath:      "firmware.bin",
		SHA256Path:        "firmware.sha256",
		NVMPath:           "nvm.json",
		SupportedPageSize: 128,
		LogLevel:          "info",
		BLELocalName:      "otaumcu",
		MetricsAddr:       ":9090",
	}
}

// Load reads config from OTAUMCU_-prefixed environment variables, an
// optional file, and defaults, in that precedence order (flags, applied by
// the caller via viper.BindPFlag, take priority over all of these). A
// supported_page_size below pagemem.MinSupportedPageSize is rejected.
func Load(v *viper.Viper, configPath string) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetEnvPrefix("OTAUMCU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("app_data_path", def.AppDataPath)
	v.SetDefault("firmware_path", def.FirmwarePath)
	v.SetDefault("sha256_path", def.SHA256Path)
	v.SetDefault("nvm_path", def.NVMPath)
	v.SetDefault("supported_page_size", def.SupportedPageSize)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("ble_local_name", def.BLELocalName)
	v.SetDefault("metrics_addr", def.MetricsAddr)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
			}
			if _, statErr := os.Stat(configPath); statErr == nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if cfg.SupportedPageSize < pagemem.MinSupportedPageSize {
		return Config{}, fmt.Errorf("config: supported_page_size %d is below the minimum of %d", cfg.SupportedPageSize, pagemem.MinSupportedPageSize)
	}

	return cfg, nil
}

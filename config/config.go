// Copyright © 2025 Railbridge contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: config/config.go
// Summary: Per-peer bridge options: YAML file with environment overrides.

// Package config loads the per-peer option set. Values come from three
// layers in increasing precedence: built-in defaults, a YAML file, and
// RAILBRIDGE_* environment variables (plus the inherited WSL names).
// The peer reads the result once at activation and keeps its own copy.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "railbridge"

// Options is the full per-peer option set.
type Options struct {
	// UseRdpAppList gates the application-list virtual channel. The
	// channel itself lives outside the core; the flag is carried so the
	// peer can advertise it.
	UseRdpAppList bool `yaml:"use_rdpapplist" envconfig:"USE_RDPAPPLIST"`

	// UseSharedMemory selects shared-memory backing instead of the
	// graphics channel. Requires SharedMemoryMountPoint.
	UseSharedMemory bool `yaml:"use_shared_memory" envconfig:"USE_SHARED_MEMORY"`

	HiDPI                  bool `yaml:"enable_hi_dpi_support" envconfig:"ENABLE_HI_DPI_SUPPORT"`
	FractionalHiDPI        bool `yaml:"enable_fractional_hi_dpi_support" envconfig:"ENABLE_FRACTIONAL_HI_DPI_SUPPORT"`
	FractionalHiDPIRoundUp bool `yaml:"enable_fractional_hi_dpi_roundup" envconfig:"ENABLE_FRACTIONAL_HI_DPI_ROUNDUP"`

	// DebugDesktopScalingFactor overrides every head's reported scale
	// when set to 100..500; other values are ignored.
	DebugDesktopScalingFactor int `yaml:"debug_desktop_scaling_factor" envconfig:"DEBUG_DESKTOP_SCALING_FACTOR"`

	ZOrderSync                 bool `yaml:"enable_window_zorder_sync" envconfig:"ENABLE_WINDOW_ZORDER_SYNC"`
	SnapArrange                bool `yaml:"enable_window_snap_arrange" envconfig:"ENABLE_WINDOW_SNAP_ARRANGE"`
	ShadowRemoting             bool `yaml:"enable_window_shadow_remoting" envconfig:"ENABLE_WINDOW_SHADOW_REMOTING"`
	DisplayPowerByScreenUpdate bool `yaml:"enable_display_power_by_screenupdate" envconfig:"ENABLE_DISPLAY_POWER_BY_SCREENUPDATE"`

	DistroNameTitle  bool `yaml:"enable_distro_name_title" envconfig:"ENABLE_DISTRO_NAME_TITLE"`
	CopyWarningTitle bool `yaml:"enable_copy_warning_title" envconfig:"ENABLE_COPY_WARNING_TITLE"`

	Logging Logging `yaml:"logging"`

	// Inherited environment, never read from YAML.
	DistroName             string `yaml:"-" envconfig:"WSL_DISTRO_NAME"`
	SharedMemoryMountPoint string `yaml:"-" envconfig:"WSL2_SHARED_MEMORY_MOUNT_POINT"`
	NotifySocket           string `yaml:"-" envconfig:"WSLGD_NOTIFY_SOCKET"`
}

// Logging selects the zap profile.
type Logging struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" envconfig:"LOG_LEVEL"`
	// Development switches to the console encoder with stacktraces.
	Development bool `yaml:"development" envconfig:"LOG_DEVELOPMENT"`
}

// Default returns the option set used when no file and no environment
// overrides are present.
func Default() Options {
	return Options{
		HiDPI:                      true,
		ZOrderSync:                 true,
		ShadowRemoting:             true,
		DisplayPowerByScreenUpdate: true,
		DistroNameTitle:            true,
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults and applies environment
// overrides. A missing file is not an error; a malformed file or an
// unknown key is.
func Load(path string) (Options, error) {
	opts := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := parse(data, &opts); err != nil {
				return opts, fmt.Errorf("config: %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return opts, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := FromEnv(&opts); err != nil {
		return opts, err
	}
	return opts, nil
}

// FromEnv applies RAILBRIDGE_* overrides (falling back to the bare
// names for the inherited WSL variables) onto opts.
func FromEnv(opts *Options) error {
	if err := envconfig.Process(envPrefix, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

func parse(data []byte, opts *Options) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(opts); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

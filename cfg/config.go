// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cfg binds the pintosfsctl command-line flags to a typed
// configuration struct via viper/pflag, the way the teacher's generated
// cfg/config.go binds gcsfuse's mount flags (SPEC_FULL.md §2.2).
package cfg

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration for the storage/VM subsystem:
// backing device locations, the buffer cache's entry count, swap capacity,
// and the ambient logging/metrics settings.
type Config struct {
	Device  DeviceConfig  `mapstructure:"device"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Swap    SwapConfig    `mapstructure:"swap"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type DeviceConfig struct {
	// Path to the backing file acting as the filesystem's block device.
	Path string `mapstructure:"path"`
	// SwapPath is the backing file for the swap device.
	SwapPath string `mapstructure:"swap-path"`
	// Sectors is the filesystem device's size in 512-byte sectors.
	Sectors int `mapstructure:"sectors"`
}

type CacheConfig struct {
	// Entries is the buffer cache's fixed entry count (spec.md §4.1:
	// compiled-in 64 in the original; overridable here for tests).
	Entries int `mapstructure:"entries"`
}

type SwapConfig struct {
	// Slots is validated at startup but not read by the swap manager, whose
	// slot count is always the compiled-in swap.SlotCount (8192).
	Slots int `mapstructure:"slots"`
}

type LoggingConfig struct {
	Severity        string `mapstructure:"severity"`
	Format          string `mapstructure:"format"`
	FilePath        string `mapstructure:"file-path"`
	MaxFileSizeMB   int    `mapstructure:"max-file-size-mb"`
	BackupFileCount int    `mapstructure:"backup-file-count"`
	MaxAgeDays      int    `mapstructure:"max-age-days"`
	Compress        bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	// ListenAddr is where the /metrics promhttp handler is served, empty
	// to disable.
	ListenAddr string `mapstructure:"listen-addr"`
}

// BindFlags registers pintosfsctl's persistent flags and binds each to its
// viper key, following the teacher's one-flag-one-bind idiom.
func BindFlags(flagSet *pflag.FlagSet) error {
	var err error

	flagSet.StringP("device", "", "pintos.img", "Path to the backing filesystem device file.")
	if err = viper.BindPFlag("device.path", flagSet.Lookup("device")); err != nil {
		return err
	}

	flagSet.StringP("swap-device", "", "pintos.swap", "Path to the backing swap device file.")
	if err = viper.BindPFlag("device.swap-path", flagSet.Lookup("swap-device")); err != nil {
		return err
	}

	flagSet.IntP("sectors", "", 8192, "Size of the filesystem device, in 512-byte sectors.")
	if err = viper.BindPFlag("device.sectors", flagSet.Lookup("sectors")); err != nil {
		return err
	}

	flagSet.IntP("cache-entries", "", 64, "Number of fixed buffer cache entries.")
	if err = viper.BindPFlag("cache.entries", flagSet.Lookup("cache-entries")); err != nil {
		return err
	}

	flagSet.IntP("swap-slots", "", 8192, "Number of swap slots (validated only; the swap manager always uses 8192).")
	if err = viper.BindPFlag("swap.slots", flagSet.Lookup("swap-slots")); err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "INFO", "Logging severity: TRACE, DEBUG, INFO, WARNING, or ERROR.")
	if err = viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "Logging output format: text or json.")
	if err = viper.BindPFlag("logging.format", flagSet.Lookup("log-format")); err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "Path to a log file; empty logs to stderr.")
	if err = viper.BindPFlag("logging.file-path", flagSet.Lookup("log-file")); err != nil {
		return err
	}

	flagSet.StringP("metrics-listen-addr", "", "", "Address to serve Prometheus metrics on; empty disables the endpoint.")
	if err = viper.BindPFlag("metrics.listen-addr", flagSet.Lookup("metrics-listen-addr")); err != nil {
		return err
	}

	return nil
}

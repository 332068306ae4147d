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

package cfg

import "fmt"

func isValidLogging(c *LoggingConfig) error {
	switch c.Severity {
	case "TRACE", "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		return fmt.Errorf("log-severity must be one of TRACE, DEBUG, INFO, WARNING, ERROR, got %q", c.Severity)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log-format must be text or json, got %q", c.Format)
	}
	if c.FilePath != "" && c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max-file-size-mb should be at least 1")
	}
	if c.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (retain all) or positive")
	}
	return nil
}

func isValidDevice(c *DeviceConfig) error {
	if c.Path == "" {
		return fmt.Errorf("device path must not be empty")
	}
	if c.Sectors <= 2 {
		return fmt.Errorf("sectors must be greater than 2 (sector 0 reserved, sector 1 free map, sector 2 root dir)")
	}
	return nil
}

func isValidCache(c *CacheConfig) error {
	if c.Entries <= 0 {
		return fmt.Errorf("cache-entries must be positive")
	}
	return nil
}

func isValidSwap(c *SwapConfig) error {
	if c.Slots <= 0 {
		return fmt.Errorf("swap-slots must be positive")
	}
	return nil
}

// ValidateConfig returns a non-nil error if config is invalid, the way the
// teacher's ValidateConfig checks each sub-config in turn.
func ValidateConfig(config *Config) error {
	if err := isValidDevice(&config.Device); err != nil {
		return fmt.Errorf("error parsing device config: %w", err)
	}
	if err := isValidCache(&config.Cache); err != nil {
		return fmt.Errorf("error parsing cache config: %w", err)
	}
	if err := isValidSwap(&config.Swap); err != nil {
		return fmt.Errorf("error parsing swap config: %w", err)
	}
	if err := isValidLogging(&config.Logging); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}
	return nil
}

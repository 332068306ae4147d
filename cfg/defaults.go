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

// GetDefaultConfig returns the configuration used before flags/viper have
// been parsed, mirroring the teacher's GetDefaultLoggingConfig but covering
// the whole struct since this tool has no separate bootstrap phase.
func GetDefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Path:     "pintos.img",
			SwapPath: "pintos.swap",
			Sectors:  8192,
		},
		Cache: CacheConfig{
			Entries: 64,
		},
		Swap: SwapConfig{
			Slots: 8192,
		},
		Logging: LoggingConfig{
			Severity:        "INFO",
			Format:          "text",
			BackupFileCount: 10,
			Compress:        true,
			MaxFileSizeMB:   512,
		},
	}
}

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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateConfig_DefaultsAreValid(t *testing.T) {
	c := GetDefaultConfig()
	assert.NoError(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsEmptyDevicePath(t *testing.T) {
	c := GetDefaultConfig()
	c.Device.Path = ""
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsTooFewSectors(t *testing.T) {
	c := GetDefaultConfig()
	c.Device.Sectors = 2
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsNonPositiveCacheEntries(t *testing.T) {
	c := GetDefaultConfig()
	c.Cache.Entries = 0
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsNonPositiveSwapSlots(t *testing.T) {
	c := GetDefaultConfig()
	c.Swap.Slots = -1
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsUnknownLogSeverity(t *testing.T) {
	c := GetDefaultConfig()
	c.Logging.Severity = "VERBOSE"
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsUnknownLogFormat(t *testing.T) {
	c := GetDefaultConfig()
	c.Logging.Format = "xml"
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_FilePathRequiresPositiveMaxSize(t *testing.T) {
	c := GetDefaultConfig()
	c.Logging.FilePath = "/var/log/pintosfsctl.log"
	c.Logging.MaxFileSizeMB = 0
	assert.Error(t, ValidateConfig(&c))
}

func TestValidateConfig_RejectsNegativeBackupCount(t *testing.T) {
	c := GetDefaultConfig()
	c.Logging.BackupFileCount = -1
	assert.Error(t, ValidateConfig(&c))
}

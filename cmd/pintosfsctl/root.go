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

// Package cmd wires pintosfsctl's subcommands (mkfs, fsck, demo) to the
// cfg/viper configuration and internal/logger, following the shape of the
// teacher's cmd/root.go (persistent flags bound at init, config unmarshaled
// in a cobra.OnInitialize hook) without the bucket/mountpoint argument
// surface, since there is no FUSE mount here.
package cmd

import (
	"fmt"
	"os"

	"github.com/pintoskernel/pintosfs/cfg"
	"github.com/pintoskernel/pintosfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	Config        cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "pintosfsctl",
	Short: "Format, check, and exercise a pintosfs block device",
	Long: `pintosfsctl drives the storage and virtual-memory subsystem of a
          pedagogical OS kernel against a real backing file: formatting a
          fresh device, walking its free map and directory tree, and running
          the end-to-end demo scenarios.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}
		if err := cfg.ValidateConfig(&Config); err != nil {
			return err
		}
		return logger.Init(logger.Config{
			Severity:        Config.Logging.Severity,
			Format:          logger.Format(Config.Logging.Format),
			FilePath:        Config.Logging.FilePath,
			MaxFileSizeMB:   Config.Logging.MaxFileSizeMB,
			BackupFileCount: Config.Logging.BackupFileCount,
			MaxAgeDays:      Config.Logging.MaxAgeDays,
			Compress:        Config.Logging.Compress,
		})
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file.")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(mkfsCmd, fsckCmd, demoCmd)
}

func initConfig() {
	Config = cfg.GetDefaultConfig()
	if cfgFile == "" {
		unmarshalErr = viper.Unmarshal(&Config)
		return
	}
	viper.SetConfigFile(cfgFile)
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		configFileErr = fmt.Errorf("error while reading config file: %w", err)
		return
	}
	unmarshalErr = viper.Unmarshal(&Config)
}

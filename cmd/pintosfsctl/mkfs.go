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

package cmd

import (
	"fmt"

	"github.com/pintoskernel/pintosfs/cfg"
	"github.com/pintoskernel/pintosfs/internal/blockdev"
	"github.com/pintoskernel/pintosfs/internal/buffercache"
	"github.com/pintoskernel/pintosfs/internal/directory"
	"github.com/pintoskernel/pintosfs/internal/freemap"
	"github.com/pintoskernel/pintosfs/internal/inode"
	"github.com/pintoskernel/pintosfs/internal/logger"
	"github.com/spf13/cobra"
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Format the configured backing device with a fresh free map and root directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMkfs(&Config)
	},
}

// bootstrapLayout computes the on-disk layout reserved by mkfs: sector 0 is
// unused padding, sector 1 is marked used for the free map but nothing is
// written to it (no free-map inode is created), sector 2 the root directory
// inode, and a run of sectors immediately after holding the free-map bitmap
// itself (spec.md §6's "On-disk layout").
func bootstrapLayout(totalSectors uint32) (bitmapSectors []uint32, reserved []uint32) {
	const freeMapInodeSector = 1
	const rootDirSector = 2
	bitmapBytes := (int(totalSectors) + 7) / 8
	need := (bitmapBytes + blockdev.SectorSize - 1) / blockdev.SectorSize
	if need == 0 {
		need = 1
	}
	for i := 0; i < need; i++ {
		bitmapSectors = append(bitmapSectors, uint32(3+i))
	}
	reserved = append([]uint32{0, freeMapInodeSector, rootDirSector}, bitmapSectors...)
	return bitmapSectors, reserved
}

func runMkfs(c *cfg.Config) error {
	dev, err := blockdev.OpenFile(c.Device.Path, uint32(c.Device.Sectors))
	if err != nil {
		return fmt.Errorf("mkfs: open device: %w", err)
	}
	cache := buffercache.New(dev, c.Cache.Entries)

	bitmapSectors, reserved := bootstrapLayout(uint32(c.Device.Sectors))
	fm, err := freemap.Format(cache, uint32(c.Device.Sectors), bitmapSectors, reserved)
	if err != nil {
		return fmt.Errorf("mkfs: format free map: %w", err)
	}

	store := inode.NewStore(cache, fm)
	if err := directory.Create(store, directory.RootSector, 16); err != nil {
		return fmt.Errorf("mkfs: create root directory: %w", err)
	}
	oi, err := store.Open(directory.RootSector)
	if err != nil {
		return fmt.Errorf("mkfs: open root directory: %w", err)
	}
	d, err := directory.Open(store, oi)
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	if err := d.AddDotEntries(directory.RootSector, directory.RootSector); err != nil {
		d.Close()
		return fmt.Errorf("mkfs: seed root '.'/'..': %w", err)
	}
	d.Close()

	if err := cache.FlushAll(); err != nil {
		return fmt.Errorf("mkfs: flush: %w", err)
	}
	logger.Infof("mkfs: formatted %s (%d sectors, %d-entry cache, bitmap sectors %v)",
		c.Device.Path, c.Device.Sectors, c.Cache.Entries, bitmapSectors)
	return nil
}

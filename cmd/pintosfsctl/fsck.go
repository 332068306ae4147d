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

var fsckCmd = &cobra.Command{
	Use:   "fsck",
	Short: "Walk the free map and directory tree of the configured device, reporting sector usage and directory entry counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFsck(&Config)
	},
}

func runFsck(c *cfg.Config) error {
	dev, err := blockdev.OpenFile(c.Device.Path, uint32(c.Device.Sectors))
	if err != nil {
		return fmt.Errorf("fsck: open device: %w", err)
	}
	cache := buffercache.New(dev, c.Cache.Entries)
	bitmapSectors, _ := bootstrapLayout(uint32(c.Device.Sectors))
	fm, err := freemap.Open(cache, uint32(c.Device.Sectors), bitmapSectors)
	if err != nil {
		return fmt.Errorf("fsck: open free map: %w", err)
	}

	free, used := 0, 0
	for i := uint32(0); i < uint32(c.Device.Sectors); i++ {
		if fm.InUse(i) {
			used++
		} else {
			free++
		}
	}
	logger.Infof("fsck: %d sectors total, %d in use, %d free", c.Device.Sectors, used, free)

	store := inode.NewStore(cache, fm)
	entries, err := walkDir(store, directory.RootSector, "/")
	if err != nil {
		return fmt.Errorf("fsck: %w", err)
	}
	logger.Infof("fsck: walked %d directory entries rooted at /", entries)
	return nil
}

func walkDir(store *inode.Store, sector uint32, path string) (int, error) {
	oi, err := store.Open(sector)
	if err != nil {
		return 0, err
	}
	d, err := directory.Open(store, oi)
	if err != nil {
		return 0, err
	}
	defer d.Close()

	count := 0
	it := d.NewIterator()
	for {
		name, ok, err := it.Next()
		if err != nil {
			return count, err
		}
		if !ok {
			break
		}
		count++
		childSector, found, err := d.Lookup(name)
		if err != nil {
			return count, err
		}
		if !found {
			continue
		}
		childOI, err := store.Open(childSector)
		if err != nil {
			return count, err
		}
		isDir, err := store.IsDir(childOI)
		store.Close(childOI)
		if err != nil {
			return count, err
		}
		if isDir {
			n, err := walkDir(store, childSector, path+name+"/")
			if err != nil {
				return count, err
			}
			count += n
		}
	}
	return count, nil
}

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RiemaLabs/charms-indexer/internal/logs"
)

const fileSuffix = ".dat"

var ErrNoSnapshot = errors.New("no snapshot")

// SaveSnapshot writes data as the snapshot of height under dir and removes
// the snapshots below evictHeight.
func SaveSnapshot(dir string, height uint, data []byte, evictHeight uint) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fileName := fmt.Sprintf("%d%s", height, fileSuffix)
	if err := os.WriteFile(filepath.Join(dir, fileName), data, 0o644); err != nil {
		return err
	}

	heights, err := snapshotHeights(dir)
	if err != nil {
		return err
	}
	for h, name := range heights {
		if h < evictHeight {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				logs.Warnf("Failed to remove old snapshot %s due to %v", name, err)
			}
		}
	}
	return nil
}

// LatestSnapshot returns the snapshot with the highest height under dir.
func LatestSnapshot(dir string) (uint, []byte, error) {
	heights, err := snapshotHeights(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil, ErrNoSnapshot
		}
		return 0, nil, err
	}
	var maxHeight uint
	var maxFile string
	for h, name := range heights {
		if maxFile == "" || h > maxHeight {
			maxHeight, maxFile = h, name
		}
	}
	if maxFile == "" {
		return 0, nil, ErrNoSnapshot
	}
	data, err := os.ReadFile(filepath.Join(dir, maxFile))
	if err != nil {
		return 0, nil, err
	}
	return maxHeight, data, nil
}

func snapshotHeights(dir string) (map[uint]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	heights := make(map[uint]string)
	for _, file := range files {
		if filepath.Ext(file.Name()) != fileSuffix {
			continue
		}
		height, err := strconv.ParseUint(strings.TrimSuffix(file.Name(), fileSuffix), 10, 64)
		if err == nil {
			heights[uint(height)] = file.Name()
		}
	}
	return heights, nil
}

package cache

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/djherbis/atime"
	"github.com/dustin/go-humanize"
)

// Period of time in seconds between which two entries are considered to have the same atime.
const accessTimeGracePeriod = 600 // Ten minutes

// A cacheEntry represents a single top-level entry in the cache.
type cacheEntry struct {
	Path  string
	Size  uint64
	Atime int64
}

// Clean trims the given cache directory down using a simple LRU scheme.
// Each directory depth levels below dir is treated as one entry (one built or
// installed wheel); depth lets the caller match the nesting of each cache tree.
// Nothing happens until total size exceeds highWaterMark; entries are then removed,
// least recently accessed first, until it is below lowWaterMark.
// Returns the total size of the directory after it's finished.
func Clean(dir string, depth int, highWaterMark, lowWaterMark uint64) uint64 {
	entries := []cacheEntry{}
	var totalSize uint64
	for _, path := range entryPaths(dir, depth) {
		size, err := findSize(path)
		if err != nil {
			log.Warning("error sizing cache entry %s: %s", path, err)
			continue
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, cacheEntry{
			Path:  path,
			Size:  size,
			Atime: atime.Get(stat).Unix(),
		})
		totalSize += size
	}
	log.Info("Total cache size of %s: %s", dir, humanize.Bytes(totalSize))
	if totalSize < highWaterMark {
		return totalSize // Nothing to do, cache is small enough.
	}
	// OK, we need to slim it down a bit. We implement a simple LRU algorithm.
	sort.Slice(entries, func(i, j int) bool {
		diff := entries[i].Atime - entries[j].Atime
		if diff > -accessTimeGracePeriod && diff < accessTimeGracePeriod {
			return entries[i].Size > entries[j].Size
		}
		return entries[i].Atime < entries[j].Atime
	})
	for _, entry := range entries {
		log.Debug("Cleaning %s, accessed %s, saves %s", entry.Path, humanize.Time(time.Unix(entry.Atime, 0)), humanize.Bytes(entry.Size))
		// Rename the directory first so we don't delete bits while someone might access them.
		newPath := entry.Path + "=cleaning"
		if err := os.Rename(entry.Path, newPath); err != nil {
			log.Errorf("Couldn't rename %s: %s", entry.Path, err)
			continue
		}
		if err := os.RemoveAll(newPath); err != nil {
			log.Errorf("Couldn't remove %s: %s", newPath, err)
			continue
		}
		totalSize -= entry.Size
		if totalSize < lowWaterMark {
			break
		}
	}
	return totalSize
}

// entryPaths returns the paths depth levels below dir, skipping in-flight
// work directories (and anything under them) at every level.
func entryPaths(dir string, depth int) []string {
	paths := []string{dir}
	for level := 0; level < depth; level++ {
		next := []string{}
		for _, p := range paths {
			infos, err := os.ReadDir(p)
			if err != nil {
				if !os.IsNotExist(err) {
					log.Error("error reading cache directory: %s", err)
				}
				continue
			}
			for _, info := range infos {
				if strings.ContainsRune(info.Name(), '=') {
					// An in-flight work directory belonging to some acquirer; leave it alone.
					continue
				}
				next = append(next, filepath.Join(p, info.Name()))
			}
		}
		paths = next
	}
	return paths
}

// findSize sums the sizes of the regular files under path; directory inodes
// don't count since the water marks are in terms of cached content bytes.
func findSize(path string) (uint64, error) {
	var totalSize uint64
	if err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		totalSize += uint64(info.Size())
		return nil
	}); err != nil {
		return 0, err
	}
	return totalSize, nil
}

// Package cache manages named on-disk caches. Each cache is a diskv store
// rooted in its own directory under the root; entries are small JSON files
// with an expiry.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/peterbourgon/diskv"
)

type Dir struct {
	root string
	now  func() time.Time
}

func New(root string) *Dir {
	return &Dir{root: root, now: time.Now}
}

type entry struct {
	ExpiresAt time.Time       `json:"expires_at"`
	Value     json.RawMessage `json:"value"`
}

// Names lists the caches that exist, sorted. A missing root means none.
func (d *Dir) Names() ([]string, error) {
	ents, err := os.ReadDir(d.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing caches: %w", err)
	}
	var names []string
	for _, e := range ents {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes the named cache. Deleting a missing cache is not an error.
func (d *Dir) Delete(name string) error {
	if err := os.RemoveAll(filepath.Join(d.root, filepath.Base(name))); err != nil {
		return fmt.Errorf("deleting cache %s: %w", name, err)
	}
	return nil
}

// DeleteMatching removes every cache whose name matches re and returns the
// names it removed. It keeps going after a failure and returns the first
// error.
func (d *Dir) DeleteMatching(re *regexp.Regexp) ([]string, error) {
	names, err := d.Names()
	if err != nil {
		return nil, err
	}
	var (
		deleted  []string
		firstErr error
	)
	for _, n := range names {
		if !re.MatchString(n) {
			continue
		}
		if err := d.Delete(n); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted = append(deleted, n)
	}
	return deleted, firstErr
}

// Get decodes the entry key of cache name into dst. It reports false when
// the entry is missing, expired or unreadable.
func (d *Dir) Get(name, key string, dst any) bool {
	raw, err := d.store(name).Read(fileKey(key))
	if err != nil {
		return false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return false
	}
	if !e.ExpiresAt.IsZero() && d.now().After(e.ExpiresAt) {
		return false
	}
	return json.Unmarshal(e.Value, dst) == nil
}

// Put stores v as entry key of cache name. A zero ttl never expires.
func (d *Dir) Put(name, key string, v any, ttl time.Duration) error {
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	e := entry{Value: val}
	if ttl > 0 {
		e.ExpiresAt = d.now().Add(ttl)
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := d.store(name).Write(fileKey(key), raw); err != nil {
		return fmt.Errorf("writing cache %s: %w", name, err)
	}
	return nil
}

// store is the diskv store of cache name. Entries sit flat in the cache
// directory and are never held in memory, so Delete needs no invalidation.
func (d *Dir) store(name string) *diskv.Diskv {
	return diskv.New(diskv.Options{
		BasePath:     filepath.Join(d.root, filepath.Base(name)),
		Transform:    func(string) []string { return nil },
		CacheSizeMax: 0,
		PathPerm:     0o700,
		FilePerm:     0o600,
	})
}

func fileKey(key string) string {
	return url.PathEscape(key) + ".json"
}

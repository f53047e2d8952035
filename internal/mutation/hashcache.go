package mutation

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"codewarden/internal/logging"
)

// ReadHashRecord is the optimistic-concurrency token for one file path: the
// content hash observed at the last successful read or write in this process,
// and when it was observed.
type ReadHashRecord struct {
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HashCache maps file paths to their last-known content hashes. It is
// process-local; the single-turn-in-flight invariant is the only
// serialization the pipeline needs, but the cache still locks because the
// optional fsnotify watcher writes from its own goroutine.
type HashCache struct {
	mu      sync.RWMutex
	records map[string]ReadHashRecord
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewHashCache creates an empty cache.
func NewHashCache() *HashCache {
	return &HashCache{records: make(map[string]ReadHashRecord)}
}

// HashContent computes the sha256 hex digest of raw content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Record stores the hash observed for a path right now.
func (c *HashCache) Record(path string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[path] = ReadHashRecord{Hash: HashContent(content), UpdatedAt: time.Now()}
}

// Lookup returns the record for a path, if any.
func (c *HashCache) Lookup(path string) (ReadHashRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[path]
	return rec, ok
}

// Invalidate drops the record for a path.
func (c *HashCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, path)
}

// Len returns the number of tracked paths.
func (c *HashCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Watch starts an fsnotify watcher over the given roots that drops hash
// records when files change on disk outside this process. The hash check in
// the engine remains the safety net; the watcher just prevents a known-stale
// record from surviving until the next replace_lines.
func (c *HashCache) Watch(roots []string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range roots {
		if err := w.Add(root); err != nil {
			w.Close()
			return err
		}
	}

	c.mu.Lock()
	c.watcher = w
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					logging.MutationDebug("Watcher invalidating hash record: %s", ev.Name)
					c.Invalidate(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.MutationError("Watcher error: %v", err)
			case <-done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one was started.
func (c *HashCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher != nil {
		close(c.done)
		c.watcher.Close()
		c.watcher = nil
	}
}

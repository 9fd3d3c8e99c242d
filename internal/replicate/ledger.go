package replicate

import (
	"sync"
)

// ExistenceCache remembers whether a key was found in the target bucket.
// An entry, once stored, is authoritative for the rest of the run.
type ExistenceCache struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewExistenceCache creates an empty cache
func NewExistenceCache() *ExistenceCache {
	return &ExistenceCache{entries: make(map[string]bool)}
}

// Lookup returns the cached answer for key and whether there is one
func (c *ExistenceCache) Lookup(key string) (exists, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exists, ok = c.entries[key]
	return exists, ok
}

// Store records whether key exists
func (c *ExistenceCache) Store(key string, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = exists
}

// Len returns the number of cached keys
func (c *ExistenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Failure is one object that could not be copied.
type Failure struct {
	Key      string `json:"key" yaml:"key"`
	Error    string `json:"error" yaml:"error"`
	Attempts int    `json:"attempts" yaml:"attempts"`

	err error
}

// Err returns the last error of the object
func (f Failure) Err() error {
	return f.err
}

// FailureLedger collects per-object copy failures in the order they happened.
type FailureLedger struct {
	mu    sync.Mutex
	index map[string]int
	items []Failure
}

// NewFailureLedger creates an empty ledger
func NewFailureLedger() *FailureLedger {
	return &FailureLedger{index: make(map[string]int)}
}

// Record stores the last error of key. Recording a key twice replaces its entry.
func (l *FailureLedger) Record(key string, err error, attempts int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	failure := Failure{Key: key, Error: err.Error(), Attempts: attempts, err: err}
	if i, ok := l.index[key]; ok {
		l.items[i] = failure
		return
	}
	l.index[key] = len(l.items)
	l.items = append(l.items, failure)
}

// Lookup returns the failure recorded for key
func (l *FailureLedger) Lookup(key string) (Failure, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[key]
	if !ok {
		return Failure{}, false
	}
	return l.items[i], true
}

// Failures returns a copy of the recorded failures
func (l *FailureLedger) Failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure(nil), l.items...)
}

func (l *FailureLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *FailureLedger) Empty() bool {
	return l.Len() == 0
}

// Package httpclient hands out shared *http.Client values keyed by timeout,
// so every embedding/LLM provider that wants (say) a 60s client reuses one
// connection-pooled transport instead of each provider dialing its own.
package httpclient

import (
	"net/http"
	"sync"
	"time"
)

// transport is shared by every pooled client regardless of timeout, since
// the timeout lives on the *http.Client, not the transport.
var transport = &http.Transport{
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

const defaultPoolLimit = 10

type pooledClient struct {
	client   *http.Client
	lastUsed time.Time
}

// pool caches one *http.Client per distinct timeout, bounded to limit
// entries with least-recently-used eviction past that.
type pool struct {
	mu    sync.Mutex
	limit int
	byKey map[time.Duration]*pooledClient
}

var shared = &pool{limit: defaultPoolLimit, byKey: make(map[time.Duration]*pooledClient)}

// GetSharedClient returns an *http.Client with the given timeout, reusing a
// pooled client (and its connections) across repeated calls with the same
// timeout.
func GetSharedClient(timeout time.Duration) *http.Client {
	shared.mu.Lock()
	defer shared.mu.Unlock()

	if entry, ok := shared.byKey[timeout]; ok {
		entry.lastUsed = time.Now()
		return entry.client
	}

	client := &http.Client{Timeout: timeout, Transport: transport}
	shared.byKey[timeout] = &pooledClient{client: client, lastUsed: time.Now()}
	shared.evictLocked()
	return client
}

// evictLocked drops the least-recently-used entries until the pool is back
// at its limit. Caller must hold shared.mu.
func (p *pool) evictLocked() {
	for len(p.byKey) > p.limit {
		var oldestKey time.Duration
		var oldestAt time.Time
		first := true
		for k, v := range p.byKey {
			if first || v.lastUsed.Before(oldestAt) {
				oldestKey, oldestAt, first = k, v.lastUsed, false
			}
		}
		delete(p.byKey, oldestKey)
	}
}

// ClearCache empties the shared client pool.
func ClearCache() {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	shared.byKey = make(map[time.Duration]*pooledClient)
}

// CacheSize reports how many distinct timeouts currently have a pooled
// client.
func CacheSize() int {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	return len(shared.byKey)
}

// SetMaxCacheSize adjusts the pool's eviction limit, trimming immediately if
// the new limit is smaller than the current size.
func SetMaxCacheSize(size int) {
	if size < 1 {
		size = 1
	}
	shared.mu.Lock()
	defer shared.mu.Unlock()
	shared.limit = size
	shared.evictLocked()
}

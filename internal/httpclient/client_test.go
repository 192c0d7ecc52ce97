package httpclient

import (
	"testing"
	"time"
)

func TestGetSharedClientAppliesRequestedTimeout(t *testing.T) {
	ClearCache()

	for _, timeout := range []time.Duration{30 * time.Second, 0, 120 * time.Second} {
		client := GetSharedClient(timeout)
		if client.Timeout != timeout {
			t.Errorf("GetSharedClient(%v).Timeout = %v, want %v", timeout, client.Timeout, timeout)
		}
	}
}

func TestGetSharedClientReusesTransportAcrossTimeouts(t *testing.T) {
	ClearCache()

	a := GetSharedClient(5 * time.Second)
	b := GetSharedClient(10 * time.Second)
	if a.Transport != b.Transport {
		t.Error("clients with different timeouts should still share one transport")
	}
}

func TestGetSharedClientReturnsSameClientForSameTimeout(t *testing.T) {
	ClearCache()

	a := GetSharedClient(7 * time.Second)
	b := GetSharedClient(7 * time.Second)
	if a != b {
		t.Error("GetSharedClient should return the cached *http.Client for a repeated timeout")
	}
}

func TestGetSharedClientConcurrentAccess(t *testing.T) {
	ClearCache()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			client := GetSharedClient(time.Duration(i+1) * time.Second)
			if client.Transport == nil {
				t.Error("expected a non-nil transport")
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestSetMaxCacheSizeEvictsLeastRecentlyUsed(t *testing.T) {
	ClearCache()
	SetMaxCacheSize(2)
	defer SetMaxCacheSize(defaultPoolLimit)

	GetSharedClient(1 * time.Second)
	GetSharedClient(2 * time.Second)
	GetSharedClient(3 * time.Second)

	if got := CacheSize(); got != 2 {
		t.Errorf("CacheSize() = %d, want 2 after exceeding a limit of 2", got)
	}
	if _, ok := shared.byKey[1*time.Second]; ok {
		t.Error("expected the least recently used 1s client to be evicted")
	}
}

func TestClearCacheEmptiesThePool(t *testing.T) {
	GetSharedClient(1 * time.Second)
	GetSharedClient(2 * time.Second)

	ClearCache()

	if got := CacheSize(); got != 0 {
		t.Errorf("CacheSize() = %d after ClearCache, want 0", got)
	}
}

package live

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/jellydator/ttlcache/v3"
)

type echoKey struct {
	address string
	method  Method
}

// at most this many unconfirmed local mutations are remembered
const echoMaxEntries = 10_000

// EchoTracker remembers mutations this client originated so the broadcast
// copy coming back on the stream is not re-applied over newer local state.
// Matching is exact on (address, method). A match consumes the entry, so
// one recorded mutation suppresses exactly one echoed update. Entries
// expire after the ttl and are evicted in the background.
type EchoTracker struct {
	cache *ttlcache.Cache[echoKey, time.Time]
}

func newEchoTracker(ctx context.Context, ttl time.Duration) *EchoTracker {
	cache := ttlcache.New[echoKey, time.Time](
		// an unmatched entry stops suppressing after the ttl
		ttlcache.WithTTL[echoKey, time.Time](ttl),
		ttlcache.WithCapacity[echoKey, time.Time](echoMaxEntries),
	)

	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[echoKey, time.Time]) {
		if reason == ttlcache.EvictionReasonExpired {
			glog.V(2).Infof("[echo]expired %s %s after %s\n", item.Key().method, item.Key().address, time.Since(item.Value()))
		}
	})

	go cache.Start()

	go func() {
		<-ctx.Done()
		cache.Stop()
	}()

	return &EchoTracker{
		cache: cache,
	}
}

// Record notes a local mutation the remote acknowledged. Recording the same
// (address, method) again refreshes the window.
func (self *EchoTracker) Record(address string, method Method) {
	self.cache.Set(echoKey{address: address, method: method}, time.Now(), 0)
}

// IsEcho reports whether the update bounces back a recorded local mutation.
// Expired entries never match.
func (self *EchoTracker) IsEcho(address string, method Method) bool {
	item, ok := self.cache.GetAndDelete(echoKey{address: address, method: method})
	if !ok || item == nil {
		return false
	}
	return !item.IsExpired()
}

func (self *EchoTracker) size() int {
	return self.cache.Len()
}

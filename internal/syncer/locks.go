package syncer

import (
	"hash/fnv"
	"sync"
)

// stripedLock serializes work per key over a fixed set of mutexes. Distinct
// keys may share a stripe; that only costs parallelism.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (s *stripedLock) lock(key string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &s.stripes[h.Sum32()%uint32(len(s.stripes))]
	mu.Lock()
	return mu.Unlock
}

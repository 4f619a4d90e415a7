package entitlement

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

var errInjected = errors.New("injected store failure")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// mapStore is an in-memory KVStore whose operations can be made to fail per
// key prefix.
type mapStore struct {
	mu     sync.Mutex
	values map[string][]byte
	fail   map[string]string // op -> key prefix that fails
}

func newMapStore() *mapStore {
	return &mapStore{values: map[string][]byte{}, fail: map[string]string{}}
}

func (s *mapStore) failOn(op, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = prefix
}

func (s *mapStore) shouldFail(op, key string) bool {
	prefix, ok := s.fail[op]
	return ok && strings.HasPrefix(key, prefix)
}

func (s *mapStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail("get", key) {
		return nil, false, errInjected
	}
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *mapStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail("set", key) {
		return errInjected
	}
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *mapStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail("remove", key) {
		return errInjected
	}
	delete(s.values, key)
	return nil
}

func (s *mapStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shouldFail("keys", prefix) {
		return nil, errInjected
	}
	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *mapStore) raw(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return string(v), ok
}

var testEpoch = time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

const adminPrincipal = "admin@x.com"

func adminOnly(principal string) bool {
	return principal == adminPrincipal
}

func newTestResolver(t *testing.T, scope string) (*Resolver, *mapStore, *testClock) {
	t.Helper()
	store := newMapStore()
	clock := newTestClock(testEpoch)
	r := NewResolver(store, Options{
		Scope:     scope,
		Clock:     clock,
		Authorize: adminOnly,
	})
	return r, store, clock
}

package entitlement

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rcourtman/tierengine/pkg/tiers"
	"github.com/rs/zerolog/log"
)

// AuthPredicate reports whether principal may create or clear admin
// overrides. It is supplied by the surrounding authorization system.
type AuthPredicate func(principal string) bool

// OverrideRecord is an administrator-set tier that outranks every other
// input while Active.
type OverrideRecord struct {
	Tier   tiers.Name `json:"tier"`
	SetBy  string     `json:"setBy"`
	SetAt  time.Time  `json:"setAt"`
	Active bool       `json:"active"`
}

// OverrideStore persists the admin override for one user scope, under a key
// separate from the tier record.
type OverrideStore struct {
	store     KVStore
	key       string
	clock     Clock
	authorize AuthPredicate
	metrics   *Metrics
}

// NewOverrideStore creates an override store for scope. A nil predicate
// denies every mutation.
func NewOverrideStore(store KVStore, scope string, clock Clock, authorize AuthPredicate) *OverrideStore {
	if clock == nil {
		clock = SystemClock
	}
	return &OverrideStore{
		store:     store,
		key:       OverrideKey(scope),
		clock:     clock,
		authorize: authorize,
	}
}

func (s *OverrideStore) authorized(principal string) bool {
	principal = strings.TrimSpace(principal)
	if principal == "" || s.authorize == nil {
		return false
	}
	return s.authorize(principal)
}

// Set activates an override to tier on behalf of principal.
func (s *OverrideStore) Set(tier string, principal string) (*OverrideRecord, error) {
	if !s.authorized(principal) {
		s.metrics.recordOverride("set", "unauthorized")
		log.Warn().Str("principal", principal).Str("key", s.key).Msg("Rejected unauthorized tier override")
		return nil, fmt.Errorf("%w: %q may not set tier overrides", ErrUnauthorized, principal)
	}

	name, err := tiers.Parse(tier)
	if err != nil {
		s.metrics.recordOverride("set", "invalid_tier")
		return nil, fmt.Errorf("%w: %q", ErrInvalidTierName, tier)
	}

	rec := &OverrideRecord{
		Tier:   name,
		SetBy:  strings.TrimSpace(principal),
		SetAt:  s.clock.Now(),
		Active: true,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode override: %w", err)
	}
	if err := s.store.Set(s.key, data); err != nil {
		s.metrics.recordOverride("set", "storage_error")
		return nil, storageError("set", s.key, err)
	}

	s.metrics.recordOverride("set", "ok")
	log.Info().
		Str("key", s.key).
		Str("tier", string(name)).
		Str("principal", rec.SetBy).
		Msg("Tier override set")
	return rec, nil
}

// Get returns the active override, or nil when there is none. Overrides do
// not expire; they end only when cleared.
func (s *OverrideStore) Get() (*OverrideRecord, error) {
	data, ok, err := s.store.Get(s.key)
	if err != nil {
		return nil, storageError("get", s.key, err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var rec OverrideRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode override %q: %w", s.key, err)
	}
	if !rec.Active {
		return nil, nil
	}
	if !tiers.IsValid(rec.Tier) {
		return nil, fmt.Errorf("%w: override names %q", ErrInvalidTierName, string(rec.Tier))
	}
	return &rec, nil
}

// Clear removes the override on behalf of principal.
func (s *OverrideStore) Clear(principal string) error {
	if !s.authorized(principal) {
		s.metrics.recordOverride("clear", "unauthorized")
		log.Warn().Str("principal", principal).Str("key", s.key).Msg("Rejected unauthorized tier override clear")
		return fmt.Errorf("%w: %q may not clear tier overrides", ErrUnauthorized, principal)
	}
	if err := s.store.Remove(s.key); err != nil {
		s.metrics.recordOverride("clear", "storage_error")
		return storageError("remove", s.key, err)
	}

	s.metrics.recordOverride("clear", "ok")
	log.Info().Str("key", s.key).Str("principal", strings.TrimSpace(principal)).Msg("Tier override cleared")
	return nil
}

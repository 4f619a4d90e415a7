// Package entitlement decides which tier a user is entitled to.
//
// Resolution order, highest first:
//
//  1. An active admin override.
//  2. A welcome trial that has run out, which resolves to Advanced even while
//     the stored record still says Pro.
//  3. The stored record, migrated to the current schema first.
//  4. The default tier (Advanced) when nothing usable is stored.
//
// Reads never mutate storage, except that migrating a stale record persists
// the upgraded record. Writes are last-writer-wins; callers are expected to be
// the single writer for a user scope.
package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rcourtman/tierengine/pkg/tiers"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options configures a Resolver.
type Options struct {
	// Scope identifies the user whose entitlement is resolved.
	Scope string
	// Clock defaults to SystemClock.
	Clock Clock
	// Authorize gates admin override mutations. Nil denies all.
	Authorize AuthPredicate
	// Metrics is optional.
	Metrics *Metrics
	// MigratorOptions customise the record migrator.
	MigratorOptions []MigratorOption
}

// Resolver is the entitlement façade for one user scope.
type Resolver struct {
	store     KVStore
	scope     string
	key       string
	clock     Clock
	overrides *OverrideStore
	migrator  *Migrator
	metrics   *Metrics
	logger    zerolog.Logger
}

// NewResolver creates a resolver over store.
func NewResolver(store KVStore, opts Options) *Resolver {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	scope := normalizeScope(opts.Scope)

	migratorOpts := append([]MigratorOption{WithMigratorMetrics(opts.Metrics)}, opts.MigratorOptions...)
	overrides := NewOverrideStore(store, scope, clock, opts.Authorize)
	overrides.metrics = opts.Metrics

	return &Resolver{
		store:     store,
		scope:     scope,
		key:       RecordKey(scope),
		clock:     clock,
		overrides: overrides,
		migrator:  NewMigrator(store, clock, migratorOpts...),
		metrics:   opts.Metrics,
		logger:    log.With().Str("scope", scope).Logger(),
	}
}

// Scope returns the user scope this resolver serves.
func (r *Resolver) Scope() string {
	return r.scope
}

// Migrator exposes the record migrator for backup maintenance.
func (r *Resolver) Migrator() *Migrator {
	return r.migrator
}

// Resolution is the outcome of effective tier resolution.
type Resolution struct {
	Tier     tiers.Definition
	Source   string
	Stored   tiers.Name
	Trial    TrialStatus
	Override *OverrideRecord
}

// load reads and migrates the stored record. Missing or unusable records
// yield nil.
func (r *Resolver) load() *Record {
	data, ok, err := r.store.Get(r.key)
	if err != nil {
		r.logger.Error().Err(err).Str("key", r.key).Msg("Failed to read tier record, using default tier")
		return nil
	}
	if !ok || len(data) == 0 {
		return nil
	}

	data, _ = r.migrator.Migrate(r.key, data)

	rec, err := DecodeRecord(data)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", r.key).Msg("Stored tier record is unusable, using default tier")
		return nil
	}
	return rec
}

// Record returns a copy of the migrated stored record, or nil.
func (r *Resolver) Record() *Record {
	rec := r.load()
	if rec == nil {
		return nil
	}
	c := *rec
	c.Metadata = rec.Metadata.clone()
	return &c
}

// activeOverride returns the active override; read failures are logged and
// treated as no override.
func (r *Resolver) activeOverride() *OverrideRecord {
	rec, err := r.overrides.Get()
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring unreadable tier override")
		return nil
	}
	return rec
}

// Resolve applies the precedence chain and reports which input decided.
func (r *Resolver) Resolve() Resolution {
	if override := r.activeOverride(); override != nil {
		r.metrics.recordResolution(ResolvedByOverride)
		return Resolution{
			Tier:     tiers.MustGet(override.Tier),
			Source:   ResolvedByOverride,
			Stored:   r.storedName(),
			Override: override,
		}
	}

	rec := r.load()
	if rec == nil {
		r.metrics.recordResolution(ResolvedByDefault)
		return Resolution{
			Tier:   tiers.MustGet(tiers.Default),
			Source: ResolvedByDefault,
			Stored: tiers.Default,
		}
	}

	trial := TrialStatusAt(rec.Metadata, r.clock.Now())
	if trial.IsOnTrial && trial.IsExpired {
		r.metrics.recordResolution(ResolvedByTrialExpired)
		return Resolution{
			Tier:   tiers.MustGet(tiers.Advanced),
			Source: ResolvedByTrialExpired,
			Stored: rec.Tier,
			Trial:  trial,
		}
	}

	r.metrics.recordResolution(ResolvedByRecord)
	return Resolution{
		Tier:   tiers.MustGet(rec.Tier),
		Source: ResolvedByRecord,
		Stored: rec.Tier,
		Trial:  trial,
	}
}

func (r *Resolver) storedName() tiers.Name {
	if rec := r.load(); rec != nil {
		return rec.Tier
	}
	return tiers.Default
}

// CurrentTier returns the stored tier, ignoring trial expiry and overrides.
func (r *Resolver) CurrentTier() tiers.Definition {
	return tiers.MustGet(r.storedName())
}

// EffectiveTier returns the tier feature gating must use.
func (r *Resolver) EffectiveTier() tiers.Definition {
	return r.Resolve().Tier
}

// IsProUser reports whether the effective tier is Pro.
func (r *Resolver) IsProUser() bool {
	return r.EffectiveTier().Name == tiers.Pro
}

// IsAdvancedUser reports whether the effective tier is Advanced.
func (r *Resolver) IsAdvancedUser() bool {
	return r.EffectiveTier().Name == tiers.Advanced
}

// CanAccessFeature looks up flag on the effective tier. Unknown flags are
// denied.
func (r *Resolver) CanAccessFeature(flag string) bool {
	granted, known := r.EffectiveTier().Features.Flag(flag)
	return known && granted
}

// RestrictionReason returns the message explaining why action is
// restricted. It reports false when the effective tier is Pro.
func (r *Resolver) RestrictionReason(action string) (string, bool) {
	if r.IsProUser() {
		return "", false
	}
	return tiers.RestrictionMessage(action), true
}

// TrialStatus returns the trial status of the stored record.
func (r *Resolver) TrialStatus() TrialStatus {
	rec := r.load()
	if rec == nil {
		return TrialStatus{}
	}
	return TrialStatusAt(rec.Metadata, r.clock.Now())
}

// StateInfo is the entitlement state plus the override shadow flag.
type StateInfo struct {
	State          State `json:"state"`
	OverrideActive bool  `json:"overrideActive"`
}

// State classifies the stored record.
func (r *Resolver) State() StateInfo {
	return StateInfo{
		State:          StateOf(r.load()),
		OverrideActive: r.activeOverride() != nil,
	}
}

// DisplayInfo is the tier summary rendered by badges and upgrade prompts.
type DisplayInfo struct {
	Name               tiers.Name `json:"name"`
	DisplayName        string     `json:"displayName"`
	Badge              string     `json:"badge"`
	PriceCents         int64      `json:"priceCents"`
	IsPro              bool       `json:"isPro"`
	StoredTier         tiers.Name `json:"storedTier"`
	Source             string     `json:"source"`
	IsOnTrial          bool       `json:"isOnTrial"`
	TrialExpired       bool       `json:"trialExpired"`
	TrialDaysRemaining int        `json:"trialDaysRemaining"`
	OverrideActive     bool       `json:"overrideActive"`
}

// TierDisplayInfo summarises the effective tier for UI collaborators.
func (r *Resolver) TierDisplayInfo() DisplayInfo {
	res := r.Resolve()
	return DisplayInfo{
		Name:               res.Tier.Name,
		DisplayName:        res.Tier.DisplayName,
		Badge:              res.Tier.Badge,
		PriceCents:         res.Tier.PriceCents,
		IsPro:              res.Tier.IsPro(),
		StoredTier:         res.Stored,
		Source:             res.Source,
		IsOnTrial:          res.Trial.IsOnTrial,
		TrialExpired:       res.Trial.IsExpired,
		TrialDaysRemaining: res.Trial.DaysRemaining,
		OverrideActive:     res.Override != nil,
	}
}

// SetTier stores name (case-insensitive) with md as the record metadata.
// It reports false for unknown tiers and storage failures.
func (r *Resolver) SetTier(name string, md *Metadata) bool {
	if err := r.setTier(name, md); err != nil {
		if errors.Is(err, ErrInvalidTierName) {
			r.logger.Warn().Err(err).Msg("Rejected tier change")
		} else {
			r.logger.Error().Err(err).Msg("Failed to store tier record")
		}
		return false
	}
	return true
}

func (r *Resolver) setTier(name string, md *Metadata) error {
	tier, err := tiers.Parse(name)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTierName, name)
	}

	now := r.clock.Now()
	metadata := md.clone()
	if metadata == nil {
		metadata = &Metadata{}
	}
	metadata.LastUpdated = &now

	rec := &Record{
		Tier:     tier,
		SetAt:    now,
		Version:  r.writeVersion(),
		Metadata: metadata,
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.store.Set(r.key, data); err != nil {
		return storageError("set", r.key, err)
	}

	r.logger.Info().
		Str("tier", string(tier)).
		Str("source", metadata.Source).
		Msg("Tier record updated")
	return nil
}

// writeVersion never lowers the stored version.
func (r *Resolver) writeVersion() int {
	version := r.migrator.TargetVersion()
	data, ok, err := r.store.Get(r.key)
	if err != nil || !ok {
		return version
	}
	var raw struct {
		Version int `json:"version"`
	}
	if json.Unmarshal(data, &raw) == nil && raw.Version > version {
		return raw.Version
	}
	return version
}

// UpgradeToPro moves the user to paid Pro.
func (r *Resolver) UpgradeToPro() bool {
	return r.SetTier(string(tiers.Pro), &Metadata{
		PaidSubscription: true,
		Source:           SourceUpgrade,
	})
}

// DowngradeToAdvanced moves the user to Advanced.
func (r *Resolver) DowngradeToAdvanced() bool {
	return r.downgrade(SourceDowngrade)
}

func (r *Resolver) downgrade(source string) bool {
	md := &Metadata{Source: source}
	if prev := r.load(); prev != nil && prev.Metadata != nil {
		md.TrialStartDate = cloneTime(prev.Metadata.TrialStartDate)
		md.TrialEndDate = cloneTime(prev.Metadata.TrialEndDate)
		md.RequiresPaymentAfterTrial = prev.Metadata.RequiresPaymentAfterTrial
	}
	return r.SetTier(string(tiers.Advanced), md)
}

// InitializeTrial starts a Pro welcome trial for a user with no record. It
// reports false when a record already exists or the write fails.
func (r *Resolver) InitializeTrial(durationDays int) bool {
	if _, ok, err := r.store.Get(r.key); err != nil {
		r.logger.Error().Err(err).Msg("Failed to read tier record before starting trial")
		return false
	} else if ok {
		r.logger.Debug().Msg("Tier record exists, not starting welcome trial")
		return false
	}
	return r.SetTier(string(tiers.Pro), InitializeTrial(durationDays, r.clock.Now()))
}

// TrialCheckResult describes what CheckTrialExpiration found and did.
type TrialCheckResult struct {
	IsOnTrial     bool   `json:"isOnTrial"`
	Expired       bool   `json:"expired"`
	Downgraded    bool   `json:"downgraded"`
	DaysRemaining int    `json:"daysRemaining"`
	Message       string `json:"message"`
}

// CheckTrialExpiration downgrades an expired, unpaid welcome trial to
// Advanced. It is the only operation that persists trial expiry.
func (r *Resolver) CheckTrialExpiration() TrialCheckResult {
	rec := r.load()
	if rec == nil {
		return TrialCheckResult{Message: "No tier record; nothing to check."}
	}

	status := TrialStatusAt(rec.Metadata, r.clock.Now())
	result := TrialCheckResult{
		IsOnTrial:     status.IsOnTrial,
		Expired:       status.IsExpired,
		DaysRemaining: status.DaysRemaining,
	}

	switch {
	case !status.IsOnTrial:
		result.Message = "Not on a welcome trial."
	case !status.IsExpired:
		result.Message = fmt.Sprintf("Trial active with %d day(s) remaining.", status.DaysRemaining)
	case rec.Metadata.PaidSubscription:
		result.Message = "Trial ended but a paid subscription is active."
	case rec.Tier == tiers.Advanced:
		result.Message = "Trial ended; already on Advanced."
	default:
		if !r.downgrade(SourceTrialEnd) {
			result.Message = "Trial ended but the downgrade could not be stored."
			return result
		}
		result.Downgraded = true
		result.Message = "Trial ended; downgraded to Advanced."
		r.logger.Info().Msg("Welcome trial expired, downgraded to Advanced")
	}
	return result
}

// ActivateProAfterPayment moves the user to paid Pro after payment approval.
// Trial dates are preserved and the welcome trial flag is cleared.
func (r *Resolver) ActivateProAfterPayment() bool {
	prev := r.load()
	if StateOf(prev) == StateProPaid {
		return true
	}

	now := r.clock.Now()
	md := &Metadata{}
	if prev != nil && prev.Metadata != nil {
		md = prev.Metadata.clone()
	}
	md.IsWelcomeTrial = false
	md.RequiresPaymentAfterTrial = false
	md.PaidSubscription = true
	md.PaymentApprovedAt = &now
	md.Source = SourcePayment
	return r.SetTier(string(tiers.Pro), md)
}

// Reset deletes the stored record. Overrides and backups are kept.
func (r *Resolver) Reset() bool {
	if err := r.store.Remove(r.key); err != nil {
		r.logger.Error().Err(storageError("remove", r.key, err)).Msg("Failed to reset tier record")
		return false
	}
	r.logger.Info().Msg("Tier record reset")
	return true
}

// Override returns the active admin override, or nil.
func (r *Resolver) Override() *OverrideRecord {
	return r.activeOverride()
}

// SetOverride sets an admin override. Unauthorized principals get
// ErrUnauthorized.
func (r *Resolver) SetOverride(tier string, principal string) (*OverrideRecord, error) {
	return r.overrides.Set(tier, principal)
}

// ClearOverride removes the admin override, revealing the underlying tier.
func (r *Resolver) ClearOverride(principal string) error {
	return r.overrides.Clear(principal)
}

package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// DefaultBackupRetention is how long pre-migration backups are kept.
const DefaultBackupRetention = 30 * 24 * time.Hour

// MigrationStep upgrades a raw record from version From to From+1. Apply may
// mutate and return raw; it always receives a private copy.
type MigrationStep struct {
	From        int
	Description string
	Apply       func(raw map[string]any) (map[string]any, error)
}

// DefaultMigrations upgrades records to CurrentVersion. Entry i migrates
// version i+1.
var DefaultMigrations = []MigrationStep{
	{
		From:        1,
		Description: "add metadata block and normalise tier case",
		Apply:       migrateV1ToV2,
	},
	{
		From:        2,
		Description: "drop cached trial days and coerce trial flags to booleans",
		Apply:       migrateV2ToV3,
	},
}

// Migration results reported in MigrationOutcome and metrics.
const (
	MigrationNoop         = "noop"
	MigrationMigrated     = "migrated"
	MigrationPartial      = "partial"
	MigrationInvalid      = "invalid"
	MigrationUnreadable   = "unreadable"
	MigrationBackupFailed = "backup_failed"
)

// MigrationOutcome describes one Migrate call.
type MigrationOutcome struct {
	Result      string
	FromVersion int
	ToVersion   int
	BackupKey   string
	Persisted   bool
	Err         error
}

// Migrator brings persisted records up to the current schema version.
type Migrator struct {
	store     KVStore
	clock     Clock
	steps     []MigrationStep
	target    int
	retention time.Duration
	metrics   *Metrics
}

// MigratorOption configures a Migrator.
type MigratorOption func(*Migrator)

// WithMigrationSteps replaces the registered steps and target version.
func WithMigrationSteps(steps []MigrationStep, target int) MigratorOption {
	return func(m *Migrator) {
		m.steps = append([]MigrationStep(nil), steps...)
		m.target = target
	}
}

// WithBackupRetention overrides DefaultBackupRetention.
func WithBackupRetention(retention time.Duration) MigratorOption {
	return func(m *Migrator) {
		if retention > 0 {
			m.retention = retention
		}
	}
}

// WithMigratorMetrics reports migration results to metrics.
func WithMigratorMetrics(metrics *Metrics) MigratorOption {
	return func(m *Migrator) {
		m.metrics = metrics
	}
}

// NewMigrator creates a migrator writing backups and results to store.
func NewMigrator(store KVStore, clock Clock, opts ...MigratorOption) *Migrator {
	if clock == nil {
		clock = SystemClock
	}
	m := &Migrator{
		store:     store,
		clock:     clock,
		steps:     append([]MigrationStep(nil), DefaultMigrations...),
		target:    CurrentVersion,
		retention: DefaultBackupRetention,
	}
	for _, opt := range opts {
		opt(m)
	}
	sort.SliceStable(m.steps, func(i, j int) bool { return m.steps[i].From < m.steps[j].From })
	return m
}

// TargetVersion is the version Migrate upgrades to.
func (m *Migrator) TargetVersion() int {
	return m.target
}

func (m *Migrator) stepFor(version int) (MigrationStep, bool) {
	idx := version - 1
	if idx >= 0 && idx < len(m.steps) && m.steps[idx].From == version {
		return m.steps[idx], true
	}
	for _, step := range m.steps {
		if step.From == version {
			return step, true
		}
	}
	return MigrationStep{}, false
}

// Migrate upgrades the record stored at key from its version to the target
// version. The original bytes are backed up only when a validated record is
// about to replace them, so a record that cannot be migrated leaves no
// backups behind. When the migrated record fails validation the original
// data is returned unchanged and nothing is written. A step that fails stops
// the run at the last good version.
func (m *Migrator) Migrate(key string, data []byte) ([]byte, MigrationOutcome) {
	outcome := MigrationOutcome{Result: MigrationNoop}

	raw, err := decodeRaw(data)
	if err != nil {
		outcome.Result = MigrationUnreadable
		outcome.Err = fmt.Errorf("%w: %v", ErrMigrationFailure, err)
		m.metrics.recordMigration(outcome.Result)
		log.Warn().Err(err).Str("key", key).Msg("Tier record is not valid JSON, skipping migration")
		return data, outcome
	}

	from := rawVersion(raw)
	outcome.FromVersion = from
	outcome.ToVersion = from
	if from >= m.target {
		return data, outcome
	}

	current := raw
	reached := from
	for v := from; v < m.target; v++ {
		step, ok := m.stepFor(v)
		if !ok {
			log.Warn().Str("key", key).Int("version", v).Msg("No migration registered for version, stopping")
			break
		}
		next, err := applyStep(step, current)
		if err != nil {
			outcome.Err = fmt.Errorf("%w: %d_to_%d: %v", ErrMigrationFailure, v, v+1, err)
			log.Warn().Err(err).Str("key", key).Int("from", v).Int("to", v+1).Msg("Migration step failed, stopping at current version")
			break
		}
		next["version"] = v + 1
		current = next
		reached = v + 1
	}

	if reached == from {
		outcome.Result = MigrationPartial
		m.metrics.recordMigration(outcome.Result)
		return data, outcome
	}

	migrated, err := json.Marshal(current)
	if err == nil {
		_, err = DecodeRecord(migrated)
	}
	if err != nil {
		outcome.Result = MigrationInvalid
		outcome.Err = fmt.Errorf("%w: %v", ErrMigrationFailure, err)
		m.metrics.recordMigration(outcome.Result)
		log.Warn().Err(err).Str("key", key).Int("from", from).Int("to", reached).Msg("Migrated tier record failed validation, keeping original")
		return data, outcome
	}

	backupKey, err := m.backup(key, data)
	if err != nil {
		outcome.Result = MigrationBackupFailed
		outcome.Err = errors.Join(outcome.Err, err)
		m.metrics.recordMigration(outcome.Result)
		log.Error().Err(err).Str("key", key).Msg("Failed to back up tier record, migration aborted")
		return data, outcome
	}
	outcome.BackupKey = backupKey

	outcome.ToVersion = reached
	outcome.Result = MigrationMigrated
	if reached < m.target {
		outcome.Result = MigrationPartial
	}

	if err := m.store.Set(key, migrated); err != nil {
		outcome.Err = errors.Join(outcome.Err, storageError("set", key, err))
		log.Error().Err(err).Str("key", key).Msg("Failed to persist migrated tier record")
	} else {
		outcome.Persisted = true
	}

	m.metrics.recordMigration(outcome.Result)
	log.Info().
		Str("key", key).
		Int("from", from).
		Int("to", reached).
		Str("backup", backupKey).
		Msg("Migrated tier record")
	return migrated, outcome
}

func applyStep(step MigrationStep, raw map[string]any) (result map[string]any, err error) {
	working, err := cloneRaw(raw)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, err = step.Apply(working)
	if err == nil && result == nil {
		err = errors.New("step returned no record")
	}
	return result, err
}

// backup writes an immutable copy of data. The ULID suffix carries the
// backup time used by the retention sweep.
func (m *Migrator) backup(key string, data []byte) (string, error) {
	id, err := ulid.New(ulid.Timestamp(m.clock.Now()), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("generate backup id: %w", err)
	}
	backupKey := backupKeyFor(key, id)

	if _, exists, err := m.store.Get(backupKey); err != nil {
		return "", storageError("get", backupKey, err)
	} else if exists {
		return "", fmt.Errorf("backup %q already exists", backupKey)
	}
	if err := m.store.Set(backupKey, data); err != nil {
		return "", storageError("set", backupKey, err)
	}
	return backupKey, nil
}

func backupKeyFor(recordKey string, id ulid.ULID) string {
	return backupPrefixFor(recordKey) + id.String()
}

func backupPrefixFor(recordKey string) string {
	return BackupKeyPrefix + strings.TrimPrefix(recordKey, recordKeyPrefix) + ":"
}

// Backups lists the backups taken for the record at key, oldest first.
func (m *Migrator) Backups(key string) ([]string, error) {
	prefix := backupPrefixFor(key)
	keys, err := m.store.Keys(prefix)
	if err != nil {
		return nil, storageError("keys", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// SweepBackups removes backups older than the retention window and returns
// how many were removed. Keys without a parsable timestamp are left alone.
func (m *Migrator) SweepBackups() (int, error) {
	keys, err := m.store.Keys(BackupKeyPrefix)
	if err != nil {
		return 0, storageError("keys", BackupKeyPrefix, err)
	}

	cutoff := m.clock.Now().Add(-m.retention)
	removed := 0
	var errs []error
	for _, key := range keys {
		takenAt, ok := backupTime(key)
		if !ok {
			log.Debug().Str("key", key).Msg("Skipping backup key without timestamp")
			continue
		}
		if !takenAt.Before(cutoff) {
			continue
		}
		if err := m.store.Remove(key); err != nil {
			errs = append(errs, storageError("remove", key, err))
			continue
		}
		removed++
	}

	m.metrics.recordBackupsSwept(removed)
	if removed > 0 {
		log.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("Swept expired tier record backups")
	}
	return removed, errors.Join(errs...)
}

func backupTime(key string) (time.Time, bool) {
	idx := strings.LastIndex(key, ":")
	if idx < 0 {
		return time.Time{}, false
	}
	id, err := ulid.ParseStrict(key[idx+1:])
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}

func decodeRaw(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("record is null")
	}
	return raw, nil
}

func cloneRaw(raw map[string]any) (map[string]any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return decodeRaw(data)
}

// rawVersion reads the schema version. Legacy records without a version
// field are version 1.
func rawVersion(raw map[string]any) int {
	if v, ok := raw["version"].(float64); ok && v >= 1 {
		return int(v)
	}
	return 1
}

func migrateV1ToV2(raw map[string]any) (map[string]any, error) {
	if tier, ok := raw["tier"].(string); ok {
		raw["tier"] = strings.ToUpper(strings.TrimSpace(tier))
	}
	md, _ := raw["metadata"].(map[string]any)
	if md == nil {
		md = map[string]any{}
	}
	if _, ok := md["lastUpdated"]; !ok {
		if setAt, ok := raw["setAt"].(string); ok {
			md["lastUpdated"] = setAt
		}
	}
	raw["metadata"] = md
	return raw, nil
}

func migrateV2ToV3(raw map[string]any) (map[string]any, error) {
	md, ok := raw["metadata"].(map[string]any)
	if !ok {
		return nil, errors.New("metadata block missing")
	}
	delete(md, "trialDaysRemaining")
	for _, field := range []string{"isWelcomeTrial", "requiresPaymentAfterTrial", "paidSubscription"} {
		md[field] = truthy(md[field])
	}
	return raw, nil
}

func truthy(v any) bool {
	switch value := v.(type) {
	case bool:
		return value
	case string:
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes":
			return true
		}
	case float64:
		return value != 0
	}
	return false
}

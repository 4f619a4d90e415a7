package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/rcourtman/tierengine/pkg/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TIERENGINE_CONFIG", "")
	t.Setenv("TIERENGINE_DATA_DIR", dir)
	t.Setenv("TIERENGINE_STORE", "file")
	t.Setenv("TIERENGINE_STORE_TIMEOUT", "")
	t.Setenv("TIERENGINE_TRIAL_DAYS", "")
	t.Setenv("TIERENGINE_BACKUP_RETENTION_DAYS", "")
	t.Setenv("TIERENGINE_ADMINS", "admin@x.com")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FORMAT", "json")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "tierctl %s", strings.Join(args, " "))
	return out
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"
	output := mustRun(t, "version")
	assert.Contains(t, output, "tierctl 1.2.3")
	assert.Contains(t, output, "Built: 2026-01-01")
	assert.Contains(t, output, "Commit: abcdef")

	BuildTime = "unknown"
	GitCommit = "unknown"
	output = mustRun(t, "version")
	assert.NotContains(t, output, "Built:")
	assert.NotContains(t, output, "Commit:")
}

func TestStatusDefaultsToAdvanced(t *testing.T) {
	setupEnv(t)

	output := mustRun(t, "status", "--user", "alice")
	assert.Contains(t, output, "User:      alice")
	assert.Contains(t, output, "Tier:      Advanced (ADVANCED)")
	assert.Contains(t, output, "Source:    default")
	assert.Regexp(t, `file_upload\s+no`, output)
}

func TestStatusJSON(t *testing.T) {
	setupEnv(t)
	mustRun(t, "upgrade", "--user", "bob")

	output := mustRun(t, "status", "--user", "bob", "--json")
	var status statusOutput
	require.NoError(t, json.Unmarshal([]byte(output), &status))
	assert.Equal(t, "bob", status.User)
	assert.True(t, status.Display.IsPro)
	assert.Equal(t, entitlement.StateProPaid, status.State.State)
	assert.True(t, status.Features["file_upload"])
}

func TestTierLifecycle(t *testing.T) {
	setupEnv(t)

	output := mustRun(t, "trial", "start", "--user", "carol")
	assert.Contains(t, output, "Started 9 day welcome trial for carol")

	_, err := run(t, "trial", "start", "--user", "carol")
	require.Error(t, err, "a second trial is refused")

	output = mustRun(t, "trial", "check", "--user", "carol")
	assert.Contains(t, output, "9 day(s) remaining")

	output = mustRun(t, "activate-paid", "--user", "carol")
	assert.Contains(t, output, "effective tier is PRO")

	output = mustRun(t, "downgrade", "--user", "carol")
	assert.Contains(t, output, "effective tier is ADVANCED")

	output = mustRun(t, "set-tier", "pro", "--user", "carol")
	assert.Contains(t, output, "effective tier is PRO")

	_, err = run(t, "set-tier", "gold", "--user", "carol")
	require.ErrorIs(t, err, entitlement.ErrInvalidTierName)

	_, err = run(t, "reset", "--user", "carol")
	require.Error(t, err, "reset requires --force")

	output = mustRun(t, "reset", "--force", "--user", "carol")
	assert.Contains(t, output, "effective tier is ADVANCED")
}

func TestTrialCheckAll(t *testing.T) {
	setupEnv(t)
	mustRun(t, "trial", "start", "--user", "gus")
	mustRun(t, "upgrade", "--user", "hal")

	output := mustRun(t, "trial", "check", "--all")
	assert.Contains(t, output, "Checked 2 user(s), downgraded 0")

	output = mustRun(t, "trial", "check", "--all", "--json")
	var results []entitlement.ScopedTrialCheck
	require.NoError(t, json.Unmarshal([]byte(output), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "gus", results[0].Scope)
	assert.True(t, results[0].Result.IsOnTrial)
}

func TestTrialStartCustomDays(t *testing.T) {
	setupEnv(t)
	output := mustRun(t, "trial", "start", "--days", "3", "--user", "dan")
	assert.Contains(t, output, "Started 3 day welcome trial")
}

func TestOverrideCommands(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "override", "set", "PRO", "--as", "eve@x.com", "--user", "erin")
	require.ErrorIs(t, err, entitlement.ErrUnauthorized)

	output := mustRun(t, "override", "show", "--user", "erin")
	assert.Contains(t, output, "No active override")

	output = mustRun(t, "override", "set", "pro", "--as", "Admin@X.com", "--user", "erin")
	assert.Contains(t, output, "Override set: erin is now PRO")

	output = mustRun(t, "status", "--user", "erin")
	assert.Contains(t, output, "Source:    override")
	assert.Contains(t, output, "Override:  active")

	_, err = run(t, "override", "clear", "--user", "erin")
	require.ErrorIs(t, err, entitlement.ErrUnauthorized)

	output = mustRun(t, "override", "clear", "--as", "admin@x.com", "--user", "erin")
	assert.Contains(t, output, "effective tier is ADVANCED")
}

func TestBackupsCommands(t *testing.T) {
	setupEnv(t)

	output := mustRun(t, "backups", "list", "--user", "fay")
	assert.Contains(t, output, "No backups")

	output = mustRun(t, "backups", "sweep", "--json")
	var swept sweepOutput
	require.NoError(t, json.Unmarshal([]byte(output), &swept))
	assert.Equal(t, 0, swept.Removed)
}

func TestInvalidConfigurationFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("TIERENGINE_STORE", "etcd")

	_, err := run(t, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load configuration")
}

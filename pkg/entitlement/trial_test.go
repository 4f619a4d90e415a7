package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeTrialMetadata(t *testing.T) {
	md := InitializeTrial(9, testEpoch)
	require.NotNil(t, md)
	assert.True(t, md.IsWelcomeTrial)
	assert.True(t, md.RequiresPaymentAfterTrial)
	assert.False(t, md.PaidSubscription)
	assert.Equal(t, SourceTrial, md.Source)
	assert.True(t, md.TrialStartDate.Equal(testEpoch))
	assert.True(t, md.TrialEndDate.Equal(testEpoch.Add(9*24*time.Hour)))

	md = InitializeTrial(-1, testEpoch)
	assert.True(t, md.TrialEndDate.Equal(testEpoch.Add(DefaultTrialDays*24*time.Hour)))
}

func TestTrialStatusAt(t *testing.T) {
	md := InitializeTrial(9, testEpoch)
	end := testEpoch.Add(9 * day)

	tests := []struct {
		name    string
		now     time.Time
		days    int
		expired bool
	}{
		{name: "start", now: testEpoch, days: 9},
		{name: "one hour in", now: testEpoch.Add(time.Hour), days: 9},
		{name: "one day in", now: testEpoch.Add(day), days: 8},
		{name: "last second", now: end.Add(-time.Second), days: 1},
		{name: "end instant", now: end, days: 0, expired: true},
		{name: "long after", now: end.Add(40 * day), days: 0, expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := TrialStatusAt(md, tt.now)
			assert.True(t, status.IsOnTrial)
			assert.Equal(t, tt.days, status.DaysRemaining)
			assert.Equal(t, tt.expired, status.IsExpired)
			require.NotNil(t, status.EndsAt)
			assert.True(t, status.EndsAt.Equal(end))
		})
	}
}

func TestTrialStatusAtWithoutTrial(t *testing.T) {
	assert.Equal(t, TrialStatus{}, TrialStatusAt(nil, testEpoch))
	assert.Equal(t, TrialStatus{}, TrialStatusAt(&Metadata{PaidSubscription: true}, testEpoch))
}

func TestTrialStatusMissingEndDateIsExpired(t *testing.T) {
	status := TrialStatusAt(&Metadata{IsWelcomeTrial: true}, testEpoch)
	assert.True(t, status.IsOnTrial)
	assert.True(t, status.IsExpired)
	assert.Equal(t, 0, status.DaysRemaining)
}

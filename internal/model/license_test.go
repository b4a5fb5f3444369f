package model

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLicense(ipLimit, hwidLimit int) *License {
	return &License{
		KeyHash:   "hash",
		Product:   "Example",
		IPLimit:   ipLimit,
		HWIDLimit: hwidLimit,
		Duration:  PermanentDuration,
		CreatedAt: time.Now(),
	}
}

func TestLicenseUseDistinctDevices(t *testing.T) {
	const n = 5
	license := newLicense(n, n)
	assert.Nil(t, license.LastUsedAt)

	for i := 0; i < n; i++ {
		require.NoError(t, license.Use(fmt.Sprintf("ip-%d", i), fmt.Sprintf("A-B-C-%d", i)))
	}

	assert.EqualValues(t, n, license.Uses)
	assert.Len(t, license.IPs, n)
	assert.Len(t, license.HWIDs, n)
	assert.NotNil(t, license.LastUsedAt)
}

func TestLicenseUseRepeatDevice(t *testing.T) {
	license := newLicense(1, 1)
	require.NoError(t, license.Use("ip-a", "A-B-C-D"))

	for i := 0; i < 3; i++ {
		require.NoError(t, license.Use("ip-a", "A-B-C-D"))
	}

	assert.EqualValues(t, 4, license.Uses)
	assert.Equal(t, StringSet{"ip-a"}, license.IPs)
	assert.Equal(t, StringSet{"A-B-C-D"}, license.HWIDs)
}

func TestLicenseUseLimits(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		hwid    string
		wantErr error
	}{
		{name: "same_device", ip: "ip-a", hwid: "hwid-a"},
		{name: "new_ip", ip: "ip-b", hwid: "hwid-a", wantErr: ErrIPLimitExceeded},
		{name: "new_hwid", ip: "ip-a", hwid: "hwid-b", wantErr: ErrHWIDLimitExceeded},
		{name: "both_new_reports_ip", ip: "ip-b", hwid: "hwid-b", wantErr: ErrIPLimitExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			license := newLicense(1, 1)
			require.NoError(t, license.Use("ip-a", "hwid-a"))
			lastUsed := license.LastUsedAt

			err := license.Use(tt.ip, tt.hwid)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.EqualValues(t, 2, license.Uses)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.EqualValues(t, 1, license.Uses)
			assert.Equal(t, StringSet{"ip-a"}, license.IPs)
			assert.Equal(t, StringSet{"hwid-a"}, license.HWIDs)
			assert.Same(t, lastUsed, license.LastUsedAt)
		})
	}
}

func TestLicenseZeroLimits(t *testing.T) {
	license := newLicense(0, 0)
	assert.ErrorIs(t, license.Use("ip", "hwid"), ErrIPLimitExceeded)
	assert.Zero(t, license.Uses)
	assert.Nil(t, license.LastUsedAt)
}

func TestLicenseHasExpired(t *testing.T) {
	now := time.Now()
	const day = int64(24 * 60 * 60)

	tests := []struct {
		name      string
		duration  int64
		createdAt time.Time
		want      bool
	}{
		{name: "permanent", duration: PermanentDuration, createdAt: now.AddDate(-10, 0, 0), want: false},
		{name: "any_negative_is_permanent", duration: -42, createdAt: now.AddDate(-10, 0, 0), want: false},
		{name: "exactly_at_boundary", duration: day, createdAt: now.Add(-24 * time.Hour), want: true},
		{name: "past_boundary", duration: day, createdAt: now.Add(-48 * time.Hour), want: true},
		{name: "one_second_before", duration: day, createdAt: now.Add(-24*time.Hour + time.Second), want: false},
		{name: "zero_duration", duration: 0, createdAt: now, want: true},
		{name: "huge_duration", duration: maxDurationSeconds + 1, createdAt: now.AddDate(-100, 0, 0), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			license := &License{Duration: tt.duration, CreatedAt: tt.createdAt}
			assert.Equal(t, tt.want, license.HasExpiredAt(now))
		})
	}
}

func TestLicenseView(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	owner := int64(1234)
	license := &License{
		Description:    "Pro",
		OwnerSnowflake: &owner,
		Plan:           "Basic",
		LatestVersion:  "1.0",
		Duration:       3600,
		CreatedAt:      created,
	}

	view := license.View()
	require.NotNil(t, view.Expires)
	assert.Equal(t, created.Add(time.Hour), *view.Expires)
	assert.Equal(t, "Pro", view.Description)
	assert.True(t, license.IsOwner(1234))
	assert.False(t, license.IsOwner(1))

	license.Duration = PermanentDuration
	assert.Nil(t, license.View().Expires)
}

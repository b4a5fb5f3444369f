package hasher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = Params{Time: 1, MemoryKiB: 64, Threads: 1}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := New(Salts{
		Licenses: "license-salt-0123456789",
		IPs:      "ip-salt-0123456789abcdef",
	}, testParams)
	require.NoError(t, err)
	return h
}

func TestHashDeterministic(t *testing.T) {
	h := newTestHasher(t)

	a := h.License("ABCD-1234-EF56-7890")
	b := h.License("ABCD-1234-EF56-7890")
	assert.Equal(t, a, b)
	assert.NotEqual(t, "ABCD-1234-EF56-7890", a)
	assert.NotEqual(t, a, h.License("ABCD-1234-EF56-7891"))
}

func TestHashCategoriesUseDifferentSalts(t *testing.T) {
	h := newTestHasher(t)
	assert.NotEqual(t, h.Hash(CategoryLicense, "1.2.3.4"), h.Hash(CategoryIP, "1.2.3.4"))
	assert.Equal(t, h.IP("1.2.3.4"), h.Hash(CategoryIP, "1.2.3.4"))
}

func TestHashDependsOnSalt(t *testing.T) {
	a := newTestHasher(t)
	b, err := New(Salts{
		Licenses: "another-license-salt-000",
		IPs:      "ip-salt-0123456789abcdef",
	}, testParams)
	require.NoError(t, err)

	assert.NotEqual(t, a.License("key"), b.License("key"))
	assert.Equal(t, a.IP("::1"), b.IP("::1"))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		salts  Salts
		params Params
	}{
		{name: "short_license_salt", salts: Salts{Licenses: "short", IPs: "ip-salt-0123456789abcdef"}, params: testParams},
		{name: "short_ip_salt", salts: Salts{Licenses: "license-salt-0123456789", IPs: "x"}, params: testParams},
		{name: "same_salts", salts: Salts{Licenses: "same-salt-0123456789", IPs: "same-salt-0123456789"}, params: testParams},
		{name: "zero_params", salts: Salts{Licenses: "license-salt-0123456789", IPs: "ip-salt-0123456789abcdef"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.salts, tt.params)
			assert.Error(t, err)
		})
	}
}

func TestHashUnknownCategoryPanics(t *testing.T) {
	h := newTestHasher(t)
	assert.Panics(t, func() { h.Hash(Category(99), "x") })
}

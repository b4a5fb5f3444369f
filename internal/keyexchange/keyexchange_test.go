package keyexchange

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecryptRoundTrip(t *testing.T) {
	kx, err := Generate()
	require.NoError(t, err)

	inputs := []string{
		"ABCD-1234-EF56-7890",
		"3b1f6a8e-1c2d-4e5f-8a9b-0c1d2e3f4a5b",
		"",
		strings.Repeat("x", 245),
	}
	for _, in := range inputs {
		ciphertext, err := Encrypt(kx.PublicKey(), in)
		require.NoError(t, err)

		plain, err := kx.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, in, plain)
	}
}

func TestDecryptFailures(t *testing.T) {
	kx, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	foreign, err := Encrypt(other.PublicKey(), "ABCD-1234-EF56-7890")
	require.NoError(t, err)

	valid, err := Encrypt(kx.PublicKey(), "ABCD-1234-EF56-7890")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(valid)
	require.NoError(t, err)
	raw[10] ^= 0xFF
	corrupted := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		input string
	}{
		{name: "wrong_key", input: foreign},
		{name: "not_base64", input: "!!not-base64!!"},
		{name: "empty", input: ""},
		{name: "short", input: base64.StdEncoding.EncodeToString([]byte("hello"))},
		{name: "corrupted", input: corrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kx.Decrypt(tt.input)
			assert.ErrorIs(t, err, ErrSignature)
		})
	}
}

func TestEncryptPayloadTooLarge(t *testing.T) {
	kx, err := Generate()
	require.NoError(t, err)

	_, err = Encrypt(kx.PublicKey(), strings.Repeat("x", 246))
	assert.Error(t, err)
}

func TestLoadOrGenerate(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, PublicKeyFile))
	assert.FileExists(t, filepath.Join(dir, PrivateKeyFile))

	info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey(), second.PublicKey())

	ciphertext, err := Encrypt(first.PublicKey(), "hello")
	require.NoError(t, err)
	plain, err := second.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)
}

func TestLoadOrGenerateRegeneratesWhenFileMissing(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(dir, PrivateKeyFile)))

	second, err := LoadOrGenerate(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first.PublicKey(), second.PublicKey())
}

func TestLoadOrGenerateRejectsCorruptKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte("garbage"), 0o600))

	_, err := LoadOrGenerate(dir)
	assert.Error(t, err)
}

func TestParseRejectsMismatchedPair(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, a.write(dir, filepath.Join(dir, PublicKeyFile), filepath.Join(dir, PrivateKeyFile)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, PublicKeyFile), b.PublicKey(), 0o644))

	_, err = LoadOrGenerate(dir)
	assert.Error(t, err)
}

func TestPublicKeyIsCopy(t *testing.T) {
	kx, err := Generate()
	require.NoError(t, err)

	pub := kx.PublicKey()
	pub[0] ^= 0xFF
	assert.NotEqual(t, pub, kx.PublicKey())
}

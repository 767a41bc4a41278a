package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oldSecret = []byte("old-secret-old-secret-old-secret!")
	newSecret = []byte("new-secret-new-secret-new-secret!")
)

func TestNewKeyring_Validation(t *testing.T) {
	_, err := NewKeyring()
	assert.ErrorIs(t, err, ErrNoSecrets)

	_, err = NewKeyring(newSecret, []byte("short"))
	assert.ErrorIs(t, err, ErrShortSecret)
	assert.Contains(t, err.Error(), "secret 1")

	kr, err := NewKeyring(newSecret, oldSecret)
	require.NoError(t, err)
	assert.Equal(t, 2, kr.Len())
}

func TestKeyring_SealOpen(t *testing.T) {
	kr, err := NewKeyring(newSecret)
	require.NoError(t, err)

	plaintext := []byte(`{"sub":"user-123"}`)
	sealed, err := kr.Seal(plaintext, []byte("app_session"))
	require.NoError(t, err)

	// nonce || ciphertext || tag
	assert.Len(t, sealed, 12+len(plaintext)+16)
	assert.False(t, bytes.Contains(sealed, plaintext))

	opened, err := kr.Open(sealed, []byte("app_session"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	sealed2, err := kr.Seal(plaintext, []byte("app_session"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, sealed2, "nonce must be fresh per seal")
}

func TestKeyring_OpenRejectsTampering(t *testing.T) {
	kr, err := NewKeyring(newSecret)
	require.NoError(t, err)

	sealed, err := kr.Seal([]byte("payload"), nil)
	require.NoError(t, err)

	for i := range sealed {
		tampered := bytes.Clone(sealed)
		tampered[i] ^= 0x01
		_, err := kr.Open(tampered, nil)
		assert.ErrorIs(t, err, ErrDecrypt, "byte %d", i)
	}

	_, err = kr.Open(sealed[:10], nil)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestKeyring_OpenRejectsOtherAdditionalData(t *testing.T) {
	kr, err := NewKeyring(newSecret)
	require.NoError(t, err)

	sealed, err := kr.Seal([]byte("payload"), []byte("auth_state"))
	require.NoError(t, err)

	_, err = kr.Open(sealed, []byte("app_session"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestKeyring_Rotation(t *testing.T) {
	before, err := NewKeyring(oldSecret)
	require.NoError(t, err)

	sealed, err := before.Seal([]byte("payload"), nil)
	require.NoError(t, err)

	t.Run("old key still listed", func(t *testing.T) {
		after, err := NewKeyring(newSecret, oldSecret)
		require.NoError(t, err)

		opened, err := after.Open(sealed, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), opened)

		// New values are sealed with the newest key only
		resealed, err := after.Seal([]byte("payload"), nil)
		require.NoError(t, err)
		_, err = before.Open(resealed, nil)
		assert.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("old key removed", func(t *testing.T) {
		after, err := NewKeyring(newSecret)
		require.NoError(t, err)

		_, err = after.Open(sealed, nil)
		assert.ErrorIs(t, err, ErrDecrypt)
	})
}

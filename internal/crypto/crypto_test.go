package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := hex.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	c, err := New(key)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadKeys(t *testing.T) {
	_, err := New("not hex")
	assert.Error(t, err)

	_, err = New(hex.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCipher(t)

	for _, plaintext := range []string{"", "EAAGm0PX4ZCps...", "secret with spaces", "ünïcødé"} {
		sealed, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, IsEncrypted(sealed))

		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestNonceUniquePerCall(t *testing.T) {
	c := testCipher(t)

	a, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := c.Encrypt("same plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestTamperedCiphertextFailsClosed(t *testing.T) {
	c := testCipher(t)

	sealed, err := c.Encrypt("whatsapp-access-token")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, "enc:v1:"))
	require.NoError(t, err)

	// Flip one byte anywhere in nonce||ciphertext||tag.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01

		_, err := c.Decrypt("enc:v1:" + base64.StdEncoding.EncodeToString(mutated))
		assert.ErrorIs(t, err, ErrDecrypt, "byte %d", i)
	}
}

func TestDecryptRejectsUntaggedValue(t *testing.T) {
	c := testCipher(t)
	_, err := c.Decrypt("plain-legacy-token")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptIfEncryptedPassesThroughLegacy(t *testing.T) {
	c := testCipher(t)

	got, err := c.DecryptIfEncrypted("plain-legacy-token")
	require.NoError(t, err)
	assert.Equal(t, "plain-legacy-token", got)

	sealed, err := c.Encrypt("new-token")
	require.NoError(t, err)
	got, err = c.DecryptIfEncrypted(sealed)
	require.NoError(t, err)
	assert.Equal(t, "new-token", got)
}

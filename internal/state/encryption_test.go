package state

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt_NoKey(t *testing.T) {
	// Without env var, encryption is a no-op
	os.Unsetenv(EncryptionKeyEnvVar)

	content := []byte(`{"formatVersion":1,"serial":0}`)
	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, encrypted)

	decrypted, err := DecryptState(content)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestEncryptDecrypt_WithKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "my-super-secret-encryption-key!!")

	content := []byte(`{"formatVersion":1,"serial":42}`)

	encrypted, err := EncryptState(content)
	require.NoError(t, err)
	assert.NotEqual(t, content, encrypted)
	assert.True(t, IsEncrypted(encrypted))

	decrypted, err := DecryptState(encrypted)
	require.NoError(t, err)
	assert.Equal(t, content, decrypted)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted([]byte("# SHOPFORGE_ENCRYPTED_STATE\nbase64data")))
	assert.False(t, IsEncrypted([]byte(`{"formatVersion":1}`)))
	assert.False(t, IsEncrypted([]byte("")))
}

func TestDecryptState_WrongKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "correct-key-for-encryption!!!!!")

	content := []byte("test data")
	encrypted, err := EncryptState(content)
	require.NoError(t, err)

	// Try decrypting with wrong key
	t.Setenv(EncryptionKeyEnvVar, "wrong-key-for-decryption!!!!!!!")
	_, err = DecryptState(encrypted)
	assert.Error(t, err)
}

func TestDecryptState_MissingKey(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "some-key")
	encrypted, err := EncryptState([]byte("test data"))
	require.NoError(t, err)

	os.Unsetenv(EncryptionKeyEnvVar)
	_, err = DecryptState(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EncryptionKeyEnvVar)
}

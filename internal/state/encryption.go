package state

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnvVar holds the passphrase for state encryption at rest.
// When unset, state files are written in the clear.
const EncryptionKeyEnvVar = "SHOPFORGE_STATE_KEY"

var encryptedHeader = []byte("# SHOPFORGE_ENCRYPTED_STATE\n")

// EncryptState encrypts state content with AES-256-GCM when an encryption
// key is configured, and returns it unchanged otherwise.
func EncryptState(content []byte) ([]byte, error) {
	key := encryptionKey()
	if key == nil {
		return content, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, content, nil)
	encoded := base64.StdEncoding.EncodeToString(ciphertext)

	out := make([]byte, 0, len(encryptedHeader)+len(encoded)+1)
	out = append(out, encryptedHeader...)
	out = append(out, encoded...)
	out = append(out, '\n')
	return out, nil
}

// DecryptState decrypts state content if it carries the encrypted header,
// and returns it unchanged otherwise.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	key := encryptionKey()
	if key == nil {
		return nil, fmt.Errorf("state is encrypted but %s is not set", EncryptionKeyEnvVar)
	}

	encoded := bytes.TrimSpace(content[len(encryptedHeader):])
	ciphertext, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode encrypted state: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("encrypted state is truncated")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state (wrong %s?): %w", EncryptionKeyEnvVar, err)
	}
	return plaintext, nil
}

// IsEncrypted reports whether content carries the encrypted state header.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(content, encryptedHeader)
}

func encryptionKey() []byte {
	passphrase := os.Getenv(EncryptionKeyEnvVar)
	if passphrase == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:]
}

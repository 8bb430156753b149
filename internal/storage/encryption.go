package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Encryption provides AES-GCM encryption/decryption for model credentials
type Encryption struct {
	key []byte
}

// NewEncryption creates a new encryption service with the given key
// The key should be 16, 24, or 32 bytes for AES-128, AES-192, or AES-256
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes, got %d", len(key))
	}

	return &Encryption{
		key: key,
	}, nil
}

// NewEncryptionFromString accepts a hex key (32, 48 or 64 chars) or a base64 key.
func NewEncryptionFromString(encodedKey string) (*Encryption, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key cannot be empty")
	}

	if key, err := hex.DecodeString(encodedKey); err == nil {
		return NewEncryption(key)
	}

	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is neither hex nor base64: %w", err)
	}

	return NewEncryption(key)
}

// NewEncryptionFromSecret derives an AES-256 key from an arbitrary secret.
// Used when no ENCRYPTION_KEY is configured.
func NewEncryptionFromSecret(secret []byte) (*Encryption, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret cannot be empty")
	}
	sum := sha256.Sum256(secret)
	return NewEncryption(sum[:])
}

// GenerateKey generates a new random encryption key of the specified size
// Returns the key hex-encoded, the format expected in ENCRYPTION_KEY
func GenerateKey(keySize int) (string, error) {
	if keySize != 16 && keySize != 24 && keySize != 32 {
		return "", fmt.Errorf("invalid key size: must be 16, 24, or 32 bytes")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return hex.EncodeToString(key), nil
}

// Encrypt encrypts plaintext using AES-GCM and returns the ciphertext as base64
func (e *Encryption) Encrypt(plaintext []byte) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Nonce is prepended to the sealed data
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext using AES-GCM
func (e *Encryption) Decrypt(ciphertextBase64 string) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}

// EncryptOptional encrypts a nullable credential; nil and "" stay nil.
func (e *Encryption) EncryptOptional(value *string) (*string, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	ciphertext, err := e.Encrypt([]byte(*value))
	if err != nil {
		return nil, err
	}
	return &ciphertext, nil
}

// DecryptOptional is the inverse of EncryptOptional.
func (e *Encryption) DecryptOptional(value *string) (*string, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	plaintext, err := e.Decrypt(*value)
	if err != nil {
		return nil, err
	}
	s := string(plaintext)
	return &s, nil
}

func (e *Encryption) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the minimum accepted length of a configured secret
const MinSecretLength = 32

const keyInfo = "auth-front cookie encryption"

var (
	ErrNoSecrets   = errors.New("at least one secret is required")
	ErrShortSecret = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
	ErrDecrypt     = errors.New("unable to decrypt value")
)

// Keyring seals values with the newest key and opens them with any
// configured key, which lets secrets be rotated without logging everyone
// out. A Keyring is immutable and safe for concurrent use.
type Keyring struct {
	aeads []cipher.AEAD
}

// NewKeyring builds a keyring from secrets ordered newest first. Each secret
// is expanded with HKDF-SHA256 into an AES-256-GCM key.
func NewKeyring(secrets ...[]byte) (*Keyring, error) {
	if len(secrets) == 0 {
		return nil, ErrNoSecrets
	}

	aeads := make([]cipher.AEAD, 0, len(secrets))
	for i, secret := range secrets {
		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("secret %d: %w", i, ErrShortSecret)
		}

		key, err := deriveKey(secret)
		if err != nil {
			return nil, fmt.Errorf("secret %d: %w", i, err)
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("secret %d: failed to create cipher: %w", i, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("secret %d: failed to create GCM: %w", i, err)
		}
		aeads = append(aeads, aead)
	}

	return &Keyring{aeads: aeads}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Len returns the number of configured keys
func (k *Keyring) Len() int {
	return len(k.aeads)
}

// Seal encrypts plaintext with the newest key. The result is
// nonce || ciphertext || tag. additionalData is authenticated but not
// encrypted, and must be passed unchanged to Open.
func (k *Keyring) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead := k.aeads[0]
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a value produced by Seal, trying every key newest first
func (k *Keyring) Open(sealed, additionalData []byte) ([]byte, error) {
	for _, aead := range k.aeads {
		nonceSize := aead.NonceSize()
		if len(sealed) < nonceSize+aead.Overhead() {
			return nil, ErrDecrypt
		}
		plaintext, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], additionalData)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, ErrDecrypt
}

package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv is consulted when no key file is configured.
const MasterKeyEnv = "HANDSHAKE_MASTER_KEY"

// ErrCiphertextTooShort is returned by Open for truncated input.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// MasterKey is the root secret of the service. Private signing keys are
// sealed with it and every other secret (challenge HMAC keys, pre-signed
// upload URLs) is derived from it with HKDF.
type MasterKey struct {
	key []byte
}

// NewMasterKey stretches arbitrary key material into a 32-byte key.
func NewMasterKey(material []byte) MasterKey {
	sum := sha256.Sum256(material)
	return MasterKey{key: sum[:]}
}

// LoadMasterKey reads key material from path, then from HANDSHAKE_MASTER_KEY.
// With neither set it generates an ephemeral key and reports ephemeral=true;
// sealed keys will not survive a restart in that mode.
func LoadMasterKey(path string) (mk MasterKey, ephemeral bool, err error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return MasterKey{}, false, fmt.Errorf("cryptox: read master key file: %w", err)
		}
		return NewMasterKey(data), false, nil
	}

	if env := os.Getenv(MasterKeyEnv); env != "" {
		return NewMasterKey([]byte(env)), false, nil
	}

	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return MasterKey{}, false, fmt.Errorf("cryptox: generate ephemeral master key: %w", err)
	}
	return NewMasterKey(material), true, nil
}

// Derive returns a 32-byte sub-key bound to salt and info.
func (m MasterKey) Derive(salt []byte, info string) []byte {
	out := make([]byte, 32)
	r := hkdf.New(sha256.New, m.key, salt, []byte(info))
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf only fails past 255*HashLen bytes of output.
		panic("cryptox: hkdf: " + err.Error())
	}
	return out
}

// Seal encrypts plaintext with AES-256-GCM.
// Output layout: [12-byte nonce][ciphertext][16-byte tag].
func (m MasterKey) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := m.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (m MasterKey) Open(sealed []byte) ([]byte, error) {
	gcm, err := m.gcm()
	if err != nil {
		return nil, err
	}

	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("cryptox: decryption failed: %w", err)
	}
	return plaintext, nil
}

func (m MasterKey) gcm() (cipher.AEAD, error) {
	if len(m.key) == 0 {
		return nil, errors.New("cryptox: master key not loaded")
	}
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Package vault provides encrypted storage for provider API keys with a
// lock/unlock lifecycle. Secrets are encrypted at rest with AES-256-GCM
// under a key derived from a master password via argon2id.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16

	// argon2id parameters (RFC 9106 second recommended option).
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	keySize      = 32
)

var (
	ErrLocked           = errors.New("vault locked")
	ErrPasswordTooShort = errors.New("password must be at least 8 bytes")
)

// Vault holds encrypted provider credentials. When enabled it starts
// locked and must be unlocked with the master password before use.
type Vault struct {
	enabled bool

	mu     sync.RWMutex
	locked bool

	salt []byte

	// derived key, in-memory only, zeroed on Lock
	key []byte

	values map[string][]byte
}

// New creates a vault. A disabled vault still works but derives its key
// from a fresh random salt with an empty password, so it offers no
// at-rest protection; it exists so callers need not branch on the flag.
func New(enabled bool) (*Vault, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	v := &Vault{
		enabled: enabled,
		locked:  enabled,
		salt:    salt,
		values:  make(map[string][]byte),
	}
	if !enabled {
		v.key = deriveKey(nil, salt)
	}
	return v, nil
}

func deriveKey(master, salt []byte) []byte {
	return argon2.IDKey(master, salt, argonTime, argonMemory, argonThreads, keySize)
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.enabled && v.locked
}

// Unlock derives the encryption key from the master password and the
// vault's salt. A no-op when the vault is disabled.
func (v *Vault) Unlock(master []byte) error {
	if !v.enabled {
		return nil
	}
	if len(master) < 8 {
		return ErrPasswordTooShort
	}
	key := deriveKey(master, v.saltCopy())

	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	v.locked = false
	return nil
}

func (v *Vault) saltCopy() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]byte, len(v.salt))
	copy(out, v.salt)
	return out
}

// Lock zeroes the derived key. Stored ciphertexts survive; Unlock with
// the same password restores access.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	v.locked = true
}

// Set encrypts and stores a value.
func (v *Vault) Set(key, value string) error {
	encrypted, err := v.Encrypt([]byte(value))
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.values[key] = encrypted
	v.mu.Unlock()
	return nil
}

// Get decrypts and retrieves a value.
func (v *Vault) Get(key string) (string, error) {
	v.mu.RLock()
	encrypted, exists := v.values[key]
	v.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("key not found: %s", key)
	}

	plaintext, err := v.Decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Delete removes a value from the vault.
func (v *Vault) Delete(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.values, key)
}

// Keys lists stored key names. Works while locked since names are not
// encrypted.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.values))
	for k := range v.values {
		out = append(out, k)
	}
	return out
}

// Snapshot is the serializable form of the vault: the salt plus the
// ciphertexts, all base64. It contains no key material.
type Snapshot struct {
	Salt   string            `json:"salt"`
	Values map[string]string `json:"values"`
}

// Export returns the encrypted vault contents for persistence.
func (v *Vault) Export() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := Snapshot{
		Salt:   base64.StdEncoding.EncodeToString(v.salt),
		Values: make(map[string]string, len(v.values)),
	}
	for k, val := range v.values {
		snap.Values[k] = base64.StdEncoding.EncodeToString(val)
	}
	return snap
}

// Import replaces the vault contents with a previously exported
// snapshot. The vault re-locks because the derived key belongs to the
// old salt; callers must Unlock again with the snapshot's password.
func (v *Vault) Import(snap Snapshot) error {
	salt, err := base64.StdEncoding.DecodeString(snap.Salt)
	if err != nil {
		return fmt.Errorf("failed to decode salt: %w", err)
	}
	if len(salt) != saltSize {
		return fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}
	values := make(map[string][]byte, len(snap.Values))
	for k, encValue := range snap.Values {
		decoded, err := base64.StdEncoding.DecodeString(encValue)
		if err != nil {
			return fmt.Errorf("failed to decode key %s: %w", k, err)
		}
		values[k] = decoded
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.salt = salt
	v.values = values
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	if v.enabled {
		v.locked = true
	} else {
		v.key = deriveKey(nil, salt)
	}
	return nil
}

func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.enabled && v.locked {
		return nil, ErrLocked
	}
	if len(v.key) != keySize {
		return nil, errors.New("no key")
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.enabled && v.locked {
		return nil, ErrLocked
	}
	if len(v.key) != keySize {
		return nil, errors.New("no key")
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	data := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

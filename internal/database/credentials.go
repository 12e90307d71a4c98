package database

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	credentialKey = "OPENAI_API_KEY"
	saltKey       = "credential_salt"

	formatPlain  byte = 0
	formatSealed byte = 1

	saltSize  = 16
	nonceSize = 24
)

var (
	ErrSecretRequired = errors.New("stored credential is encrypted; set client.store_secret")
	ErrWrongSecret    = errors.New("stored credential cannot be decrypted with this secret")
)

// Credentials keeps the provider key in the settings table. With a secret the
// value is sealed with secretbox under an scrypt-derived key.
type Credentials struct {
	db     *DB
	secret []byte

	mu      sync.Mutex
	keySalt []byte
	key     *[32]byte
}

func NewCredentials(db *DB, secret string) *Credentials {
	return &Credentials{db: db, secret: []byte(secret)}
}

func (c *Credentials) Load(ctx context.Context) (string, error) {
	s, err := c.db.GetSetting(ctx, credentialKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(s.Value) == 0 {
		return "", nil
	}

	switch s.Value[0] {
	case formatPlain:
		return string(s.Value[1:]), nil
	case formatSealed:
		return c.open(ctx, s.Value[1:])
	default:
		return "", fmt.Errorf("unknown credential format %d", s.Value[0])
	}
}

func (c *Credentials) Save(ctx context.Context, value string) error {
	var stored []byte
	if len(c.secret) == 0 {
		stored = append([]byte{formatPlain}, value...)
	} else {
		sealed, err := c.seal(ctx, []byte(value))
		if err != nil {
			return err
		}
		stored = append([]byte{formatSealed}, sealed...)
	}
	return c.db.PutSetting(ctx, credentialKey, stored)
}

func (c *Credentials) Clear(ctx context.Context) error {
	return c.db.DeleteSetting(ctx, credentialKey)
}

// Encrypted reports whether the stored value, if any, is sealed.
func (c *Credentials) Encrypted(ctx context.Context) (bool, error) {
	s, err := c.db.GetSetting(ctx, credentialKey)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(s.Value) > 0 && s.Value[0] == formatSealed, nil
}

func (c *Credentials) seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	key, err := c.derive(ctx, true)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

func (c *Credentials) open(ctx context.Context, sealed []byte) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrSecretRequired
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("stored credential is truncated")
	}

	key, err := c.derive(ctx, false)
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return "", ErrWrongSecret
	}
	return string(plaintext), nil
}

// derive returns the box key for the stored salt, creating the salt when
// create is set and none exists yet.
func (c *Credentials) derive(ctx context.Context, create bool) (*[32]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	salt, err := c.salt(ctx, create)
	if err != nil {
		return nil, err
	}
	if c.key != nil && bytes.Equal(c.keySalt, salt) {
		return c.key, nil
	}

	raw, err := scrypt.Key(c.secret, salt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	var key [32]byte
	copy(key[:], raw)
	c.key = &key
	c.keySalt = salt
	return c.key, nil
}

func (c *Credentials) salt(ctx context.Context, create bool) ([]byte, error) {
	s, err := c.db.GetSetting(ctx, saltKey)
	if err == nil && len(s.Value) == saltSize {
		return s.Value, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if !create {
		return nil, ErrWrongSecret
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := c.db.PutSetting(ctx, saltKey, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

package infrastructure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"talk2chat/internal/entities"
)

const (
	credentialSalt   = "talk2chat-channel-credentials"
	credentialInfo   = "widget-config-secrets-v1"
	credentialPrefix = "enc:"
	gcmNonceSize     = 12
)

var ErrDecryptionFailed = errors.New("credential decryption failed")

// CredentialCipher seals channel secrets stored in widget configs. Sealed
// values carry the "enc:" prefix; anything else is treated as plaintext so
// configs written before encryption was enabled keep working.
type CredentialCipher struct {
	aead cipher.AEAD
}

func NewCredentialCipher(secret string) (*CredentialCipher, error) {
	if secret == "" {
		return nil, errors.New("credential secret cannot be empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), []byte(credentialSalt), []byte(credentialInfo)), key); err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

func (c *CredentialCipher) Seal(plaintext string) (string, error) {
	if plaintext == "" || strings.HasPrefix(plaintext, credentialPrefix) {
		return plaintext, nil
	}
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return credentialPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *CredentialCipher) Open(value string) (string, error) {
	if !strings.HasPrefix(value, credentialPrefix) {
		return value, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, credentialPrefix))
	if err != nil || len(raw) < gcmNonceSize {
		return "", ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, raw[:gcmNonceSize], raw[gcmNonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// secretFields lists every secret a widget config stores.
func secretFields(cfg *entities.WidgetConfig) []*string {
	in := &cfg.Integrations
	fields := []*string{
		&in.WhatsApp.APIKey,
		&in.WhatsApp.VerifyToken,
		&in.Instagram.AccessToken,
		&in.Facebook.AccessToken,
		&in.Email.APIKey,
		&in.Telegram.BotToken,
		&in.Telegram.SecretToken,
	}
	return fields
}

// OpenConfig decrypts cfg's secrets in place.
func (c *CredentialCipher) OpenConfig(cfg *entities.WidgetConfig) error {
	for _, f := range secretFields(cfg) {
		v, err := c.Open(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	for provider, key := range cfg.AI.Keys {
		v, err := c.Open(key)
		if err != nil {
			return fmt.Errorf("ai key %s: %w", provider, err)
		}
		cfg.AI.Keys[provider] = v
	}
	return nil
}

// SealConfig encrypts cfg's secrets in place.
func (c *CredentialCipher) SealConfig(cfg *entities.WidgetConfig) error {
	for _, f := range secretFields(cfg) {
		v, err := c.Seal(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	for provider, key := range cfg.AI.Keys {
		v, err := c.Seal(key)
		if err != nil {
			return err
		}
		cfg.AI.Keys[provider] = v
	}
	return nil
}

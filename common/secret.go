package common

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/Laisky/errors/v2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/Laisky/llm-gateway/common/config"
)

const secretMask = "******"

// secretKeySalt is a fixed application salt for key derivation; rotating the
// configured secret rotates the derived key.
var secretKeySalt = []byte("llm-gateway/credential-store/v1")

const secretKeyIterations = 10000

// MaskSecret returns a masked placeholder for secrets.
func MaskSecret(value string) string {
	if value == "" {
		return ""
	}
	return secretMask
}

// IsMaskedSecret reports whether the supplied value is a masked placeholder.
func IsMaskedSecret(value string) bool {
	return value == secretMask
}

// DisplaySecret renders a prefix/suffix-masked form of a credential, e.g.
// "sk-abcd***1234", without revealing the full key.
func DisplaySecret(value string) string {
	if len(value) < 12 {
		return "***"
	}
	return value[:7] + "***" + value[len(value)-4:]
}

// EncryptSecret encrypts a sensitive value using AES-GCM with a key derived
// from the configured session secret.
func EncryptSecret(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	key := deriveSecretKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "create gcm")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, "read nonce")
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(value), nil)
	payload := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptSecret decrypts a value encrypted by EncryptSecret.
func DecryptSecret(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	payload, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", errors.Wrap(err, "decode secret")
	}

	key := deriveSecretKey()
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Wrap(err, "create cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, "create gcm")
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < nonceSize {
		return "", errors.New("secret payload too short")
	}

	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt secret")
	}

	return string(plaintext), nil
}

// DecryptSecretSilent decrypts for display paths; failures yield an empty
// string instead of an error so callers never log ciphertext details.
func DecryptSecretSilent(value string) string {
	plaintext, err := DecryptSecret(value)
	if err != nil {
		return ""
	}
	return plaintext
}

// deriveSecretKey returns a stable 32-byte key derived from the session
// secret via PBKDF2-SHA256.
func deriveSecretKey() []byte {
	secret := config.SessionSecret
	if secret == "" {
		secret = "llm-gateway-default-secret"
	}
	return pbkdf2.Key([]byte(secret), secretKeySalt, secretKeyIterations, 32, sha256.New)
}

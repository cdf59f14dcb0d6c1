package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// SecretPrefix marks every issued secret so operators and scanners can
	// recognise it.
	SecretPrefix = "sk_"

	// SecretLength is the total length of an issued secret: the prefix plus
	// 48 random bytes in unpadded base64url (64 characters).
	SecretLength = len(SecretPrefix) + 64

	secretEntropyBytes  = 48
	displayPrefixLength = len(SecretPrefix) + 8
)

func GenerateSecret() (string, error) {
	buf := make([]byte, secretEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}

	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix is the part of a secret that is safe to store and show.
func DisplayPrefix(secret string) string {
	if len(secret) <= displayPrefixLength {
		return secret
	}
	return secret[:displayPrefixLength]
}

package utils

import (
	"crypto/rand"
	"encoding/base64"
)

func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(b)[:length]
}

// GenerateSecret mints a shared worker secret. Secrets guard the whole
// worker surface, so the bytes come from the operating system's CSPRNG.
func GenerateSecret() string {
	return GenerateRandomString(24)
}

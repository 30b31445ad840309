package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// APIKeyPrefix marks every project ingestion key.
const APIKeyPrefix = "proj_"

const apiKeyRandomBytes = 24

// GenerateAPIKey returns a fresh plaintext key, its storage digest and a
// display hint made of the last four characters.
func GenerateAPIKey() (plain, hash, hint string, err error) {
	buf := make([]byte, apiKeyRandomBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plain = APIKeyPrefix + hex.EncodeToString(buf)
	return plain, HashAPIKey(plain), plain[len(plain)-4:], nil
}

// HashAPIKey returns the hex SHA-256 digest stored for a key.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// HasAPIKeyPrefix reports whether the credential looks like a project key.
func HasAPIKeyPrefix(plain string) bool {
	return strings.HasPrefix(plain, APIKeyPrefix) && len(plain) > len(APIKeyPrefix)
}

// CompareAPIKeyHash compares two digests in constant time.
func CompareAPIKeyHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

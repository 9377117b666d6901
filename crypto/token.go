package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
)

// Constants

// EncryptionKeySize is the length of the
// secret shared by all members of a space.
const EncryptionKeySize = 32

// Functions

// NewEncryptionKey draws a fresh space secret.
func NewEncryptionKey() ([]byte, error) {

	key := make([]byte, EncryptionKeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "failed to draw encryption key")
	}

	return key, nil
}

// ReplicationToken proves to other peers of the space
// identified by discoveryID that requester knows the
// space secret key.
func ReplicationToken(key []byte, discoveryID string, requester string) []byte {

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(discoveryID))
	mac.Write([]byte{0})
	mac.Write([]byte(requester))

	return mac.Sum(nil)
}

// VerifyReplicationToken checks token in constant time.
func VerifyReplicationToken(key []byte, discoveryID string, requester string, token []byte) bool {

	if len(key) == 0 {
		return false
	}

	return hmac.Equal(ReplicationToken(key, discoveryID, requester), token)
}

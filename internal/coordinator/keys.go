package coordinator

import (
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"
)

// NewRoomID issues a globally unique room identifier for the media pipeline.
// ULIDs sort by creation time, which keeps room listings stable.
func NewRoomID() string {
	return "room_" + ulid.Make().String()
}

// NewStreamKey issues the capability token the media pipeline presents when
// publishing. The plaintext is returned to the host exactly once; only the
// bcrypt hash is persisted.
func NewStreamKey() string {
	return "sk_" + ulid.Make().String()
}

// HashStreamKey hashes a stream key for storage.
func HashStreamKey(key string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckStreamKey compares a presented key with the stored hash.
func CheckStreamKey(key, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

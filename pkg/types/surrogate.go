package types

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/spaolacci/murmur3"
)

// UserKeyWidth is the fixed hex width of user surrogate keys.
const UserKeyWidth = 16

// UserKey derives the surrogate key for a user from its natural ID.
// The key is the 128-bit murmur3 hash of the ID, hex encoded and
// truncated to UserKeyWidth characters. The same user_id always yields
// the same key, and distinct ids collide only with negligible
// probability (64 bits of hash survive the truncation).
func UserKey(userID string) string {
	h1, h2 := murmur3.Sum128([]byte(userID))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], h1)
	binary.BigEndian.PutUint64(buf[8:], h2)
	return hex.EncodeToString(buf[:])[:UserKeyWidth]
}

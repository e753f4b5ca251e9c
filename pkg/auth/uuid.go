package auth

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// OfflineUUID derives the deterministic server-local UUID for a username,
// matching Java's UUID.nameUUIDFromBytes over "OfflinePlayer:<name>":
// a name-based (version 3) UUID with the RFC 4122 variant.
func OfflineUUID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	id, _ := uuid.FromBytes(sum[:])
	return id
}

// ParseMojangID parses the undashed 32-hex uuid the session server returns.
func ParseMojangID(hex32 string) (uuid.UUID, error) {
	return uuid.Parse(hex32)
}

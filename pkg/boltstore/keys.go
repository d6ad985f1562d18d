package boltstore

import (
	"encoding/binary"
	"strings"
)

// Bucket name constants for bbolt storage.
var (
	bucketMeta         = []byte("meta")
	bucketAccounts     = []byte("accounts")
	bucketAccountNames = []byte("accountnames")
	bucketWorlds       = []byte("worlds")
	bucketWorldNames   = []byte("worldnames")
)

// Meta key constants.
var (
	keyVersion = []byte("version")
)

// schemaVersion is written to the meta bucket on open.
const schemaVersion = 1

// intToKey converts an int to an 8-byte big-endian key.
func intToKey(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// keyToInt converts an 8-byte big-endian key back to an int.
func keyToInt(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// nameKey folds a name for the case-insensitive index buckets.
func nameKey(name string) []byte {
	return []byte(strings.ToLower(name))
}

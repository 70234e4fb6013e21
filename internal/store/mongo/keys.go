package mongo

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// documentKey is the _id of the record holding collection/id.
func documentKey(collection, id string) string {
	hash := blake3.Sum256([]byte(collection + "/" + id))
	return hex.EncodeToString(hash[:16])
}

// collectionHash keeps the collection namespace distinct from document keys.
func collectionHash(collection string) string {
	hash := blake3.Sum256([]byte("collection:" + collection))
	return hex.EncodeToString(hash[:16])
}

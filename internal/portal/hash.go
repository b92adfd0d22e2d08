package portal

import (
	"crypto/sha1"
	"encoding/hex"
)

// HashId derives a content addressed id from the parent's id and the title
// of an entity, so that reordered rows keep their ids between scrapes.
func HashId(parentId, title string) string {
	sum := sha1.Sum([]byte(parentId + "|" + title))
	return hex.EncodeToString(sum[:])
}

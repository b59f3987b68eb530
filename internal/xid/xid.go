// Package xid mints prefixed identifiers for store entities, such as
// "prod-..." or "batch-...". Sale ids use uuid instead because they double
// as client-facing idempotency keys.
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

const randomBytes = 8

// New returns an id of the form "{prefix}-{unixnano}-{hex}". The timestamp
// keeps ids roughly sortable by creation; the random suffix makes collisions
// across restarts implausible.
func New(prefix string) string {
	stamp := time.Now().UnixNano()
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// Entropy failures leave the timestamp alone, still unique enough
		// for a single-register store.
		return fmt.Sprintf("%s-%d", prefix, stamp)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, stamp, hex.EncodeToString(buf))
}

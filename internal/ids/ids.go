// Package ids mints identifiers for rows that carry a client-visible key
// next to their numeric primary key.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTransactionID mints the transaction id recorded on manually entered
// payments. Bank imports keep the id assigned by the bank; the prefix keeps
// the two namespaces from colliding in the unique index.
func NewTransactionID() string {
	return "manual-" + New()
}

// Package id generates time-sortable identifiers and deterministic
// client order ids.
package id

import (
	cryptoRand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// Seed a PRNG from crypto/rand so ULID entropy is unpredictable.
	// ulid.Monotonic keeps IDs generated within one millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. ULIDs sort by generation time, which suits
// journal records and SQLite indexes.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if time goes backwards or entropy fails.
		panic(err)
	}
	return u.String()
}

// Prefix marks client order ids generated by this system.
const Prefix = "fxp-"

// ClientOrderID derives the deterministic broker client order id for a
// signal. Retried submissions of the same signal always carry the same id,
// which makes order placement idempotent at the broker.
func ClientOrderID(signalID string) string {
	sum := sha256.Sum256([]byte("order:" + signalID))
	return Prefix + hex.EncodeToString(sum[:12])
}

// Package anonymize turns a textual IP address into a stable, opaque
// identifier so unique-visitor sets can be merged across hosts without ever
// persisting the address itself.
package anonymize

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/snonux/foostats/internal/event"
)

// IP maps a textual IP address to a (hash, family) pair. Family is v6 iff
// the address contains a colon; otherwise v4. Hash is the base64 encoding
// of the SHA3-512 digest of the raw address bytes, stable across runs and
// hosts so the same IP always anonymizes to the same hash.
func IP(addr string) (hash string, family event.Family) {
	if strings.Contains(addr, ":") {
		family = event.V6
	} else {
		family = event.V4
	}

	digest := sha3.Sum512([]byte(addr))
	hash = base64.StdEncoding.EncodeToString(digest[:])
	return hash, family
}

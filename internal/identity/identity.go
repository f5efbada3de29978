// Package identity defines participant identities and the canonical
// unordered pairing used to address a shared signaling channel.
package identity

import "fmt"

// Identity is the numeric handle of a registered participant.
type Identity int64

// None is the sentinel for "no peer selected". Call and messaging
// operations must short-circuit when either side of a pair is None.
const None Identity = -1

// Valid reports whether id refers to a real participant.
func (id Identity) Valid() bool {
	return id > 0
}

// Pair is an unordered pair of identities stored in canonical (min, max)
// order so that both participants derive the same channel address.
type Pair struct {
	Low  Identity
	High Identity
}

// MakePair normalizes (a, b) into canonical order.
func MakePair(a, b Identity) Pair {
	if a > b {
		a, b = b, a
	}
	return Pair{Low: a, High: b}
}

// Valid reports whether both members are real, distinct participants.
func (p Pair) Valid() bool {
	return p.Low.Valid() && p.High.Valid() && p.Low != p.High
}

// Key is the deterministic channel address for the pair. Both
// participants compute the identical key regardless of argument order.
func (p Pair) Key() string {
	return fmt.Sprintf("%d-%d", p.Low, p.High)
}

// Other returns the pair member that is not self.
func (p Pair) Other(self Identity) Identity {
	switch self {
	case p.Low:
		return p.High
	case p.High:
		return p.Low
	default:
		return None
	}
}

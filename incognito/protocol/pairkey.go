package protocol

import "strings"

// PairKey derives the order-independent identifier for an unordered pair
// of identities. Identities are folded to lower case (uniqueness is
// case-insensitive), sorted lexicographically and joined.
//
// PairKey(a, b) == PairKey(b, a) for all identity pairs. The key doubles
// as the handshake de-duplication key and the session rendezvous id.
func PairKey(a, b string) string {
	x := strings.ToLower(a)
	y := strings.ToLower(b)
	if x > y {
		x, y = y, x
	}
	return x + "-" + y
}

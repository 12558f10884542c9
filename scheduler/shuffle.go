package scheduler

import (
	"encoding/binary"

	"github.com/minio/sha256-simd"
	"golang.org/x/exp/slices"
)

// Shuffle returns a permutation of identities that depends only on its arguments.
// Identities are sorted first so callers may pass them in any order.
// Swap positions come from sha256(seed || epoch || i).
func Shuffle(epoch uint64, identities []string, seed []byte) []string {
	order := slices.Clone(identities)
	slices.Sort(order)

	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[:8], epoch)
	digest := make([]byte, sha256.Size)
	hasher := sha256.New()
	for i := len(order) - 1; i > 0; i-- {
		binary.BigEndian.PutUint64(buf[8:], uint64(i))
		hasher.Reset()
		hasher.Write(seed)
		hasher.Write(buf)
		digest = hasher.Sum(digest[:0])
		j := binary.BigEndian.Uint64(digest[:8]) % uint64(i+1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

package fleet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"

	"gridmobility/internal/sim/geom"
)

// stateDigest hashes the motion state of every agent after tick.
func (f *Fleet) stateDigest(tick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, tick)
	digestWriteU64(h, &tmp, uint64(f.sim.Now()))
	digestWriteU64(h, &tmp, uint64(len(f.agents)))
	for _, a := range f.agents {
		m := a.model
		h.Write([]byte(a.id))
		digestWriteVec(h, &tmp, m.Position())
		digestWriteVec(h, &tmp, m.Velocity())
		c := m.Counters()
		digestWriteU64(h, &tmp, uint64(c.Trials))
		digestWriteU64(h, &tmp, uint64(c.Straight))
		digestWriteU64(h, &tmp, uint64(c.Right))
		digestWriteU64(h, &tmp, uint64(c.Left))
		digestWriteU64(h, &tmp, uint64(m.PendingTurn()))
		digestWriteU64(h, &tmp, uint64(m.Phase()))
		digestWriteF64(h, &tmp, m.Jitter())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

// Negative zero hashes like zero.
func digestWriteF64(h hash.Hash, tmp *[8]byte, v float64) {
	if v == 0 {
		v = 0
	}
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteVec(h hash.Hash, tmp *[8]byte, v geom.Vec2) {
	digestWriteF64(h, tmp, v.X)
	digestWriteF64(h, tmp, v.Y)
}

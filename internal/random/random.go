// Package random provides the seeded generator behind every mutation choice.
//
// All values are derived from a byte stream produced by a PCG generator
// seeded only from the user seed, so two generators built from the same seed
// return identical sequences for identical call sequences on every platform.
// Every typed draw consumes a fixed, documented number of stream bytes.
package random

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"time"
)

// pcgIncrement is the second PCG seed word, fixed so the seed alone selects the stream
const pcgIncrement = 0xda3e39cb94b95bdb

// Generator is a deterministic pseudo-random generator
type Generator struct {
	seed     int64
	src      *rand.PCG
	buf      [8]byte
	avail    int // unread bytes left in buf
	consumed uint64
}

// New creates a generator for seed
func New(seed int64) *Generator {
	return &Generator{
		seed: seed,
		src:  rand.NewPCG(uint64(seed), pcgIncrement),
	}
}

// NewFromClock seeds a generator from the wall clock
func NewFromClock() *Generator {
	return New(time.Now().UnixNano())
}

// Seed returns the seed the generator was built from
func (g *Generator) Seed() int64 {
	return g.seed
}

// Consumed returns the number of stream bytes drawn so far
func (g *Generator) Consumed() uint64 {
	return g.consumed
}

// NextBytes draws n bytes from the stream
func (g *Generator) NextBytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	out := make([]byte, n)
	g.fill(out)
	return out
}

func (g *Generator) fill(out []byte) {
	for i := range out {
		if g.avail == 0 {
			binary.LittleEndian.PutUint64(g.buf[:], g.src.Uint64())
			g.avail = len(g.buf)
		}
		out[i] = g.buf[len(g.buf)-g.avail]
		g.avail--
	}
	g.consumed += uint64(len(out))
}

// NextUint32 reinterprets 4 stream bytes
func (g *Generator) NextUint32() uint32 {
	var b [4]byte
	g.fill(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

// NextUint64 reinterprets 8 stream bytes
func (g *Generator) NextUint64() uint64 {
	var b [8]byte
	g.fill(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// NextInt64 reinterprets 8 stream bytes as a signed value
func (g *Generator) NextInt64() int64 {
	return int64(g.NextUint64())
}

// Next returns a non-negative value in [0, 2^31-1)
func (g *Generator) Next() int {
	for {
		v := int(g.NextUint32() >> 1)
		if v != math.MaxInt32 {
			return v
		}
	}
}

// NextN returns a value in [0, max). A max <= 0 yields 0.
func (g *Generator) NextN(max int) int {
	if max <= 0 {
		return 0
	}
	return int(g.uniform(uint64(max)))
}

// NextRange returns a value in [min, max). When max <= min, min is returned.
func (g *Generator) NextRange(min, max int) int {
	if max <= min {
		return min
	}
	span := uint64(max) - uint64(min)
	return int(uint64(min) + g.uniform(span))
}

// NextInt64Range returns a value between min and max, drawing only as many
// bytes as the width of |max-min| needs: 1 below 0x100, 2 below 0x10000,
// 4 below 0x100000000 and 8 otherwise.
func (g *Generator) NextInt64Range(min, max int64) int64 {
	lo, hi := min, max
	if hi < lo {
		lo, hi = hi, lo
	}
	span := uint64(hi) - uint64(lo)

	var b [8]byte
	g.fill(b[:byteWidth(span)])
	raw := binary.LittleEndian.Uint64(b[:])

	if span == 0 {
		return lo
	}
	return int64(uint64(lo) + raw%span)
}

// byteWidth returns how many stream bytes NextInt64Range draws for span
func byteWidth(span uint64) int {
	switch {
	case span < 0x100:
		return 1
	case span < 0x10000:
		return 2
	case span < 0x100000000:
		return 4
	default:
		return 8
	}
}

// NextFloat returns a value in [0, 1) built from 8 stream bytes
func (g *Generator) NextFloat() float64 {
	return float64(g.NextUint64()>>11) / (1 << 53)
}

// NextBool consumes one byte
func (g *Generator) NextBool() bool {
	var b [1]byte
	g.fill(b[:])
	return b[0]&1 == 1
}

// uniform returns an unbiased value in [0, n) by modulo rejection.
// Spans that fit in 32 bits draw 4 bytes per attempt, larger ones 8.
func (g *Generator) uniform(n uint64) uint64 {
	if n <= 1<<32 {
		if n == 1<<32 {
			return uint64(g.NextUint32())
		}
		n32 := uint32(n)
		thresh := -n32 % n32
		for {
			v := g.NextUint32()
			if v >= thresh {
				return uint64(v % n32)
			}
		}
	}
	thresh := -n % n
	for {
		v := g.NextUint64()
		if v >= thresh {
			return v % n
		}
	}
}

// Derive returns the seed of the generator used for one iteration, so that a
// decision depends on (seed, index) only and can be rebuilt in isolation.
func Derive(seed int64, index int) int64 {
	z := uint64(seed) ^ (uint64(index) * 0x9e3779b97f4a7c15)
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// ForIteration creates the generator for iteration index of a run seeded with seed
func ForIteration(seed int64, index int) *Generator {
	return New(Derive(seed, index))
}

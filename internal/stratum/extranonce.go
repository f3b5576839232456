package stratum

import (
	"fmt"
	"sync"
)

// maxSessionsPerFamily matches the 2-byte extranonce width: 65,536 possible
// values, with 0 reserved as "unallocated".
const maxSessionsPerFamily = 1 << 16

// ErrExtranonceExhausted is returned by Allocate when a family's pool is
// fully in use.
var ErrExtranonceExhausted = fmt.Errorf("extranonce pool exhausted")

// ExtranonceAllocator hands out unique extranonce values per miner family.
// Bitmain sessions carry a zero-width extranonce and never contend.
type ExtranonceAllocator struct {
	mu   sync.Mutex
	next map[Family]uint32
	free map[Family]map[uint32]struct{}
}

// NewExtranonceAllocator builds an empty allocator.
func NewExtranonceAllocator() *ExtranonceAllocator {
	return &ExtranonceAllocator{
		next: make(map[Family]uint32),
		free: make(map[Family]map[uint32]struct{}),
	}
}

// Allocate returns the smallest unused extranonce for the family, encoded
// big-endian in its declared width. Bitmain always gets an empty slice.
func (a *ExtranonceAllocator) Allocate(f Family) ([]byte, error) {
	width := f.ExtranonceWidth()
	if width == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if freed := a.free[f]; len(freed) > 0 {
		smallest := uint32(maxSessionsPerFamily)
		for v := range freed {
			if v < smallest {
				smallest = v
			}
		}
		delete(freed, smallest)
		return encodeExtranonce(smallest, width), nil
	}

	v := a.next[f] + 1
	if v >= maxSessionsPerFamily {
		return nil, ErrExtranonceExhausted
	}
	a.next[f] = v
	return encodeExtranonce(v, width), nil
}

// Release returns an extranonce to the family's pool. Idempotent.
func (a *ExtranonceAllocator) Release(f Family, extranonce []byte) {
	if len(extranonce) == 0 {
		return
	}
	v := decodeExtranonce(extranonce)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.free[f] == nil {
		a.free[f] = make(map[uint32]struct{})
	}
	a.free[f][v] = struct{}{}
}

func encodeExtranonce(v uint32, width int) []byte {
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func decodeExtranonce(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

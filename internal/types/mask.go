package types

import (
	"fmt"
	"math/bits"
	"sort"
)

// Mask is a boolean 2D array stored as a packed bitset, row-major.
type Mask struct {
	Width  int
	Height int
	words  []uint64
}

// NewMask allocates an all-false mask.
func NewMask(width, height int) Mask {
	n := width * height
	return Mask{Width: width, Height: height, words: make([]uint64, (n+63)/64)}
}

// MaskFromScores thresholds a row-major score map at 0: a pixel is set when its score is > 0.
func MaskFromScores(width, height int, scores []float32) (Mask, error) {
	if len(scores) != width*height {
		return Mask{}, fmt.Errorf("score map has %d values, expected %dx%d", len(scores), width, height)
	}
	m := NewMask(width, height)
	for i, s := range scores {
		if s > 0 {
			m.words[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return m, nil
}

// MaskFromPacked builds a mask from the LSB-first packed representation returned by Packed.
func MaskFromPacked(width, height int, packed []byte) (Mask, error) {
	n := width * height
	if len(packed) != (n+7)/8 {
		return Mask{}, fmt.Errorf("packed mask has %d bytes, expected %d", len(packed), (n+7)/8)
	}
	m := NewMask(width, height)
	for i := 0; i < n; i++ {
		if packed[i/8]&(1<<(uint(i)%8)) != 0 {
			m.words[i/64] |= 1 << (uint(i) % 64)
		}
	}
	return m, nil
}

// At reports whether pixel (x, y) is set. Out-of-range pixels are false.
func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	i := y*m.Width + x
	return m.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Set marks pixel (x, y).
func (m Mask) Set(x, y int) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	i := y*m.Width + x
	m.words[i/64] |= 1 << (uint(i) % 64)
}

// Count returns the number of set pixels.
func (m Mask) Count() int {
	c := 0
	for _, w := range m.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Coverage returns the fraction of set pixels.
func (m Mask) Coverage() float64 {
	if m.Width == 0 || m.Height == 0 {
		return 0
	}
	return float64(m.Count()) / float64(m.Width*m.Height)
}

// Packed returns the mask as LSB-first packed bytes, one bit per pixel, row-major.
func (m Mask) Packed() []byte {
	n := m.Width * m.Height
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if m.words[i/64]&(1<<(uint(i)%64)) != 0 {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

// VideoSegments maps frame index -> object id -> mask.
type VideoSegments map[int]map[int]Mask

// FrameIDs returns the decoded frame indices in ascending order.
func (v VideoSegments) FrameIDs() []int {
	ids := make([]int, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

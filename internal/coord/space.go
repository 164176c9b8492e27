package coord

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
)

// Space describes the component ranges a sampler may draw from.
//
// Random draws use the full 40-digit hexagon range. Sequential walks are
// bounded to the hexagon window [SeqHexStart, SeqHexStart+SeqHexCount)
// because the full range does not fit any counter worth persisting.
type Space struct {
	Walls   []Wall
	Shelves int
	Volumes int
	Pages   int

	SeqHexStart uint64
	SeqHexCount uint64
}

// DefaultSpace returns the Babelia ranges: four walls, five shelves,
// 32 volumes and 640 pages per volume.
func DefaultSpace() Space {
	return Space{
		Walls:       append([]Wall(nil), Walls...),
		Shelves:     5,
		Volumes:     32,
		Pages:       640,
		SeqHexStart: 0,
		SeqHexCount: 1 << 20,
	}
}

// Validate checks that the space is non-empty and that its sequential size
// fits in a uint64.
func (s Space) Validate() error {
	if len(s.Walls) == 0 {
		return errors.New("coord: space has no walls")
	}
	for _, w := range s.Walls {
		if !w.Valid() {
			return fmt.Errorf("coord: invalid wall %q", w)
		}
	}
	if s.Shelves < 1 || s.Volumes < 1 || s.Pages < 1 || s.Pages > 999 {
		return fmt.Errorf("coord: invalid ranges shelves=%d volumes=%d pages=%d", s.Shelves, s.Volumes, s.Pages)
	}
	if s.SeqHexCount == 0 {
		return errors.New("coord: sequential hex window is empty")
	}
	per := s.perHex()
	if s.SeqHexCount > math.MaxUint64/per {
		return errors.New("coord: sequential range overflows uint64")
	}
	if s.SeqHexStart > math.MaxUint64-s.SeqHexCount {
		return errors.New("coord: sequential hex window overflows uint64")
	}
	return nil
}

func (s Space) perHex() uint64 {
	return uint64(len(s.Walls)) * uint64(s.Shelves) * uint64(s.Volumes) * uint64(s.Pages)
}

// Size is the number of coordinates in the sequential range.
func (s Space) Size() uint64 {
	return s.SeqHexCount * s.perHex()
}

// At maps a sequential index to its coordinate. Page varies fastest, then
// volume, shelf, wall and finally the hexagon. The caller keeps i < Size().
func (s Space) At(i uint64) Coordinate {
	page := i % uint64(s.Pages)
	i /= uint64(s.Pages)
	volume := i % uint64(s.Volumes)
	i /= uint64(s.Volumes)
	shelf := i % uint64(s.Shelves)
	i /= uint64(s.Shelves)
	wall := i % uint64(len(s.Walls))
	i /= uint64(len(s.Walls))

	return Coordinate{
		Hex:    FormatHex(s.SeqHexStart + i),
		Wall:   s.Walls[wall],
		Shelf:  int(shelf) + 1,
		Volume: int(volume) + 1,
		Page:   int(page) + 1,
	}
}

// Index is the inverse of At. It reports false when c lies outside the
// sequential range.
func (s Space) Index(c Coordinate) (uint64, bool) {
	if len(c.Hex) != HexDigits {
		return 0, false
	}
	for i := 0; i < HexDigits-16; i++ {
		if c.Hex[i] != '0' {
			return 0, false
		}
	}
	hex, err := strconv.ParseUint(c.Hex[HexDigits-16:], 16, 64)
	if err != nil || hex < s.SeqHexStart || hex-s.SeqHexStart >= s.SeqHexCount {
		return 0, false
	}
	wall := -1
	for i, w := range s.Walls {
		if w == c.Wall {
			wall = i
			break
		}
	}
	if wall < 0 || c.Shelf < 1 || c.Shelf > s.Shelves || c.Volume < 1 || c.Volume > s.Volumes || c.Page < 1 || c.Page > s.Pages {
		return 0, false
	}

	idx := hex - s.SeqHexStart
	idx = idx*uint64(len(s.Walls)) + uint64(wall)
	idx = idx*uint64(s.Shelves) + uint64(c.Shelf-1)
	idx = idx*uint64(s.Volumes) + uint64(c.Volume-1)
	idx = idx*uint64(s.Pages) + uint64(c.Page-1)
	return idx, true
}

// Random draws a coordinate uniformly over the component ranges, using the
// full hexagon range.
func (s Space) Random(r *rand.Rand) Coordinate {
	const digits = "0123456789abcdef"
	hex := make([]byte, HexDigits)
	for i := 0; i < HexDigits; i += 16 {
		v := r.Uint64()
		for j := 0; j < 16 && i+j < HexDigits; j++ {
			hex[i+j] = digits[v&0xf]
			v >>= 4
		}
	}
	return Coordinate{
		Hex:    string(hex),
		Wall:   s.Walls[r.IntN(len(s.Walls))],
		Shelf:  r.IntN(s.Shelves) + 1,
		Volume: r.IntN(s.Volumes) + 1,
		Page:   r.IntN(s.Pages) + 1,
	}
}

// Contains reports whether c is a valid address in s, ignoring the
// sequential hexagon window.
func (s Space) Contains(c Coordinate) error {
	if len(c.Hex) != HexDigits || !isHex(c.Hex) {
		return fmt.Errorf("coord: hex must be %d lowercase hex digits", HexDigits)
	}
	found := false
	for _, w := range s.Walls {
		if w == c.Wall {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("coord: wall %q out of range", c.Wall)
	}
	if c.Shelf < 1 || c.Shelf > s.Shelves {
		return fmt.Errorf("coord: shelf %d out of range 1..%d", c.Shelf, s.Shelves)
	}
	if c.Volume < 1 || c.Volume > s.Volumes {
		return fmt.Errorf("coord: volume %d out of range 1..%d", c.Volume, s.Volumes)
	}
	if c.Page < 1 || c.Page > s.Pages {
		return fmt.Errorf("coord: page %d out of range 1..%d", c.Page, s.Pages)
	}
	return nil
}

// FormatHex renders n as a zero padded 40-digit hexagon name.
func FormatHex(n uint64) string {
	return fmt.Sprintf("%040x", n)
}

// Package coord defines the Babelia address space.
//
// A Coordinate names exactly one image in the archive. Its canonical key is
// the path segment Babelia itself uses ("{hex}-w{wall}-s{shelf}-v{volume}-p{page}"),
// so the key doubles as the dedup key in the visited set and in the
// discovery table, and can always be turned back into the original address.
package coord

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultBaseURL is the public Babelia image archive.
const DefaultBaseURL = "https://babelia.libraryofbabel.info"

// HexDigits is the length of a hexagon name.
const HexDigits = 40

// Wall is one of the four walls of a hexagon.
type Wall byte

const (
	North Wall = 'n'
	East  Wall = 'e'
	South Wall = 's'
	West  Wall = 'w'
)

// Walls lists every wall in canonical order.
var Walls = []Wall{North, East, South, West}

// Valid reports whether w is a known wall.
func (w Wall) Valid() bool {
	switch w {
	case North, East, South, West:
		return true
	}
	return false
}

func (w Wall) String() string { return string(w) }

// MarshalText encodes the wall as its letter.
func (w Wall) MarshalText() ([]byte, error) {
	return []byte{byte(w)}, nil
}

// UnmarshalText accepts a single wall letter.
func (w *Wall) UnmarshalText(b []byte) error {
	if len(b) != 1 || !Wall(b[0]).Valid() {
		return fmt.Errorf("coord: invalid wall %q", b)
	}
	*w = Wall(b[0])
	return nil
}

// Coordinate addresses one image. It is a value type and never mutated
// after construction.
type Coordinate struct {
	Hex    string `json:"hex" yaml:"hex"`
	Wall   Wall   `json:"wall" yaml:"wall"`
	Shelf  int    `json:"shelf" yaml:"shelf"`
	Volume int    `json:"volume" yaml:"volume"`
	Page   int    `json:"page" yaml:"page"`
}

// Key returns the canonical string form, e.g.
// "00..0a-wn-s1-v1-p001".
func (c Coordinate) Key() string {
	var b strings.Builder
	b.Grow(len(c.Hex) + 20)
	b.WriteString(c.Hex)
	b.WriteString("-w")
	b.WriteByte(byte(c.Wall))
	b.WriteString("-s")
	b.WriteString(strconv.Itoa(c.Shelf))
	b.WriteString("-v")
	b.WriteString(strconv.Itoa(c.Volume))
	b.WriteString("-p")
	fmt.Fprintf(&b, "%03d", c.Page)
	return b.String()
}

func (c Coordinate) String() string { return c.Key() }

// Short returns an abbreviated key for log lines.
func (c Coordinate) Short() string {
	if len(c.Hex) <= 12 {
		return c.Key()
	}
	return c.Hex[:12] + "…" + c.Key()[len(c.Hex):]
}

// URL builds the image URL for c under base. An empty base uses
// DefaultBaseURL.
func (c Coordinate) URL(base string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/imagebrowse.cgi?" + c.Key()
}

// Validate checks c against the default address ranges.
func (c Coordinate) Validate() error {
	return DefaultSpace().Contains(c)
}

// Parse is the inverse of Coordinate.Key.
func Parse(key string) (Coordinate, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 5 {
		return Coordinate{}, fmt.Errorf("coord: malformed key %q", key)
	}
	c := Coordinate{Hex: parts[0]}
	if !isHex(c.Hex) {
		return Coordinate{}, fmt.Errorf("coord: invalid hex %q", c.Hex)
	}

	if len(parts[1]) != 2 || parts[1][0] != 'w' {
		return Coordinate{}, fmt.Errorf("coord: invalid wall %q", parts[1])
	}
	c.Wall = Wall(parts[1][1])
	if !c.Wall.Valid() {
		return Coordinate{}, fmt.Errorf("coord: invalid wall %q", parts[1])
	}

	var err error
	if c.Shelf, err = component(parts[2], 's'); err != nil {
		return Coordinate{}, err
	}
	if c.Volume, err = component(parts[3], 'v'); err != nil {
		return Coordinate{}, err
	}
	if c.Page, err = component(parts[4], 'p'); err != nil {
		return Coordinate{}, err
	}
	if len(parts[4]) != 4 {
		return Coordinate{}, fmt.Errorf("coord: page must be zero padded to 3 digits: %q", parts[4])
	}
	return c, nil
}

// FromURL extracts the coordinate from a Babelia image URL.
func FromURL(raw string) (Coordinate, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Coordinate{}, fmt.Errorf("coord: parse url: %w", err)
	}
	return Parse(u.RawQuery)
}

func component(s string, prefix byte) (int, error) {
	if len(s) < 2 || s[0] != prefix {
		return 0, fmt.Errorf("coord: invalid %c component %q", prefix, s)
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("coord: invalid %c component %q", prefix, s)
	}
	return n, nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}

package coord

import (
	"encoding/json"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_RoundTrip(t *testing.T) {
	c := Coordinate{Hex: FormatHex(0xabc), Wall: East, Shelf: 3, Volume: 17, Page: 42}

	key := c.Key()
	assert.Equal(t, "0000000000000000000000000000000000000abc-we-s3-v17-p042", key)

	parsed, err := Parse(key)
	require.NoError(t, err)
	assert.Equal(t, c, parsed)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"missing parts", "abc-wn-s1"},
		{"bad hex", "xyz-wn-s1-v1-p001"},
		{"bad wall", "abc-wq-s1-v1-p001"},
		{"zero shelf", "abc-wn-s0-v1-p001"},
		{"unpadded page", "abc-wn-s1-v1-p1"},
		{"no prefix", "abc-wn-1-v1-p001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.key)
			assert.Error(t, err)
		})
	}
}

func TestURL(t *testing.T) {
	c := Coordinate{Hex: FormatHex(1), Wall: North, Shelf: 1, Volume: 1, Page: 1}
	u := c.URL("")
	assert.Equal(t, DefaultBaseURL+"/imagebrowse.cgi?"+c.Key(), u)

	back, err := FromURL(u)
	require.NoError(t, err)
	assert.Equal(t, c, back)

	assert.Equal(t, "http://local/imagebrowse.cgi?"+c.Key(), c.URL("http://local/"))
}

func TestSpace_AtIndex(t *testing.T) {
	s := DefaultSpace()
	s.SeqHexStart = 100
	s.SeqHexCount = 3
	require.NoError(t, s.Validate())
	assert.Equal(t, uint64(3*4*5*32*640), s.Size())

	first := s.At(0)
	assert.Equal(t, Coordinate{Hex: FormatHex(100), Wall: North, Shelf: 1, Volume: 1, Page: 1}, first)

	second := s.At(1)
	assert.Equal(t, 2, second.Page)

	last := s.At(s.Size() - 1)
	assert.Equal(t, Coordinate{Hex: FormatHex(102), Wall: West, Shelf: 5, Volume: 32, Page: 640}, last)

	for _, i := range []uint64{0, 1, 639, 640, 12345, s.Size() - 1} {
		idx, ok := s.Index(s.At(i))
		require.True(t, ok, "index %d", i)
		assert.Equal(t, i, idx)
	}

	_, ok := s.Index(Coordinate{Hex: FormatHex(103), Wall: North, Shelf: 1, Volume: 1, Page: 1})
	assert.False(t, ok)
}

func TestSpace_Validate(t *testing.T) {
	s := DefaultSpace()
	s.Walls = nil
	assert.Error(t, s.Validate())

	s = DefaultSpace()
	s.SeqHexCount = 0
	assert.Error(t, s.Validate())

	s = DefaultSpace()
	s.SeqHexCount = ^uint64(0)
	assert.Error(t, s.Validate())
}

func TestSpace_RandomInRange(t *testing.T) {
	s := DefaultSpace()
	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 500; i++ {
		c := s.Random(r)
		require.NoError(t, s.Contains(c), c.Key())
		_, err := Parse(c.Key())
		require.NoError(t, err)
	}
}

func TestSpace_RandomDeterministic(t *testing.T) {
	s := DefaultSpace()
	a := rand.New(rand.NewPCG(7, 7))
	b := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 20; i++ {
		assert.Equal(t, s.Random(a), s.Random(b))
	}
}

func TestWall_JSON(t *testing.T) {
	c := Coordinate{Hex: FormatHex(1), Wall: South, Shelf: 1, Volume: 2, Page: 3}
	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"wall":"s"`)

	var back Coordinate
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, c, back)

	assert.Error(t, json.Unmarshal([]byte(`{"wall":"x"}`), &back))
}

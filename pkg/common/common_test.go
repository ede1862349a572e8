package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUUIDint64Unique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := UUIDint64()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(16)
	assert.NoError(t, err)
	assert.Len(t, a, 32)
	b, _ := RandomToken(16)
	assert.NotEqual(t, a, b)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Fresh Bananas":      "fresh-bananas",
		"  Kigali  Coffee!! ": "kigali-coffee",
		"Ibirayi/Irish":      "ibirayi-irish",
		"---":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

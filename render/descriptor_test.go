package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffsetFor(t *testing.T) {
	tests := []struct {
		name        string
		index       int
		elementSize int
		alignment   int
		want        int
	}{
		{"first element needs no offset", 0, 48, 64, 0},
		{"element smaller than alignment", 1, 48, 64, 64},
		{"element equal to alignment", 2, 64, 64, 128},
		{"element larger than alignment", 1, 80, 64, 128},
		{"no alignment requirement", 3, 48, 1, 144},
		{"zero alignment", 2, 48, 0, 96},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, OffsetFor(test.index, test.elementSize, test.alignment))
		})
	}
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, 0, alignUp(0, 64))
	assert.Equal(t, 64, alignUp(1, 64))
	assert.Equal(t, 64, alignUp(64, 64))
	assert.Equal(t, 128, alignUp(65, 64))
	assert.Equal(t, 17, alignUp(17, 1))
}

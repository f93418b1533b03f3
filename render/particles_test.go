package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupCount(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{ParticleGroupSize - 1, 1},
		{ParticleGroupSize, 1},
		{ParticleGroupSize + 1, 2},
		{10 * ParticleGroupSize, 10},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, GroupCount(test.count), "count %d", test.count)
	}
}

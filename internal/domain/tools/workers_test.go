package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkers(t *testing.T) {
	t.Run("75 percent of cores clamped to [2,16]", func(t *testing.T) {
		cases := map[int]int{
			1:   2,
			2:   2,
			4:   3,
			5:   3,
			7:   5,
			8:   6,
			16:  12,
			32:  16,
			64:  16,
			128: 16,
		}
		for cores, want := range cases {
			assert.Equal(t, want, Workers(0, cores), "cores=%d", cores)
		}
	})

	t.Run("explicit value wins over detection", func(t *testing.T) {
		assert.Equal(t, 10, Workers(10, 4))
		assert.Equal(t, 1, Workers(1, 64))
		assert.Equal(t, 40, Workers(40, 2))
	})

	t.Run("undetectable cpu count assumes 4 cores", func(t *testing.T) {
		assert.Equal(t, 3, Workers(0, 0))
		assert.Equal(t, 3, Workers(0, -8))
	})

	t.Run("auto sizing stays inside the clamp", func(t *testing.T) {
		n := AutoWorkers(0)
		assert.GreaterOrEqual(t, n, 2)
		assert.LessOrEqual(t, n, 16)
	})
}

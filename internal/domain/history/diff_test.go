package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	t.Run("partitions fingerprints into new, resolved, persisting", func(t *testing.T) {
		// given
		earlier := []string{"a", "b", "c"}
		later := []string{"b", "c", "d"}
		// when
		d := Diff(earlier, later)
		// then
		assert.Equal(t, []string{"d"}, d.New)
		assert.Equal(t, []string{"a"}, d.Resolved)
		assert.Equal(t, []string{"b", "c"}, d.Persisting)
	})

	t.Run("identical scans persist everything", func(t *testing.T) {
		d := Diff([]string{"x", "y"}, []string{"y", "x"})
		assert.Empty(t, d.New)
		assert.Empty(t, d.Resolved)
		assert.Equal(t, []string{"x", "y"}, d.Persisting)
	})

	t.Run("empty earlier scan makes everything new", func(t *testing.T) {
		d := Diff(nil, []string{"a"})
		assert.Equal(t, []string{"a"}, d.New)
		assert.Empty(t, d.Resolved)
		assert.Empty(t, d.Persisting)
	})

	t.Run("empty later scan resolves everything", func(t *testing.T) {
		d := Diff([]string{"a", "b"}, nil)
		assert.Empty(t, d.New)
		assert.Equal(t, []string{"a", "b"}, d.Resolved)
		assert.Empty(t, d.Persisting)
	})

	t.Run("output is sorted regardless of input order", func(t *testing.T) {
		d := Diff([]string{"z", "m", "a"}, []string{"q", "b"})
		assert.Equal(t, []string{"b", "q"}, d.New)
		assert.Equal(t, []string{"a", "m", "z"}, d.Resolved)
	})
}

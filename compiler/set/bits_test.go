package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits[int](10)

	s.Set(1)
	s.Set(3)
	s.Set(130)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(130))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 3, s.Size())

	s.Clear(3)
	s.Clear(5000)

	var got []int

	s.Range(func(k int) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []int{1, 130}, got)
}

package birdeye

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)

	want := []int{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i, w := range want {
		assert.Equal(t, time.Duration(w)*time.Second, b.Next(), "step %d", i)
	}
}

func TestBackoff_ResetAfterSuccess(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)
	b.Next()
	b.Next()
	b.Next()

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
}

func TestBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())
}

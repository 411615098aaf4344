package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStepping(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewStepping(start, time.Second)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())
	assert.Equal(t, start.Add(2*time.Second), c.Now())
}

func TestFixed(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := Fixed(at)
	assert.Equal(t, at, c.Now())
	assert.Equal(t, at, c.Now())
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System.Now().Location())
}

package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marminbh/webhook-gateway/internal/scheduler"
)

func TestDelay(t *testing.T) {
	base := time.Minute
	max := time.Hour

	t.Run("successive delays strictly increase up to the cap", func(t *testing.T) {
		prev := time.Duration(0)
		for attempt := 0; attempt < 6; attempt++ {
			d := scheduler.Delay(base, max, attempt)
			assert.Greater(t, d, prev, "attempt %d", attempt)
			prev = d
		}
	})

	t.Run("doubles per attempt", func(t *testing.T) {
		assert.Equal(t, time.Minute, scheduler.Delay(base, max, 0))
		assert.Equal(t, 2*time.Minute, scheduler.Delay(base, max, 1))
		assert.Equal(t, 4*time.Minute, scheduler.Delay(base, max, 2))
		assert.Equal(t, 8*time.Minute, scheduler.Delay(base, max, 3))
	})

	t.Run("caps at maxDelay", func(t *testing.T) {
		assert.Equal(t, max, scheduler.Delay(base, max, 10))
		assert.Equal(t, max, scheduler.Delay(base, max, 60))
	})

	t.Run("nonpositive base falls back to one second", func(t *testing.T) {
		assert.Equal(t, 2*time.Second, scheduler.Delay(0, max, 1))
	})
}

func TestJitter(t *testing.T) {
	d := 10 * time.Minute
	lo := time.Duration(float64(d) * 0.8)
	hi := time.Duration(float64(d) * 1.2)

	for i := 0; i < 200; i++ {
		j := scheduler.Jitter(d)
		assert.GreaterOrEqual(t, j, lo)
		assert.LessOrEqual(t, j, hi)
	}

	assert.Equal(t, time.Duration(0), scheduler.Jitter(0))
}

package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var clockStart = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_Advance(t *testing.T) {
	c := NewFakeClock(clockStart)
	assert.Equal(t, clockStart, c.Now())

	c.Advance(90 * time.Minute)
	assert.Equal(t, clockStart.Add(90*time.Minute), c.Now())
}

func TestFakeClock_TimerFiresOnAdvance(t *testing.T) {
	c := NewFakeClock(clockStart)
	timer := c.NewTimer(time.Hour)

	c.Advance(30 * time.Minute)
	select {
	case <-timer.C():
		t.Fatal("timer fired before its deadline")
	default:
	}

	c.Advance(31 * time.Minute)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire after its deadline passed")
	}
}

func TestFakeClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewFakeClock(clockStart)
	timer := c.NewTimer(time.Minute)
	assert.True(t, timer.Stop())

	c.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeClock_Reset(t *testing.T) {
	c := NewFakeClock(clockStart)
	timer := c.NewTimer(time.Minute)
	timer.Stop()
	timer.Reset(time.Hour)

	c.Advance(time.Hour)
	select {
	case <-timer.C():
	default:
		t.Fatal("reset timer did not fire")
	}
}

func TestFixedIDGenerator(t *testing.T) {
	g := NewFixedIDGenerator("evt")
	assert.Equal(t, "evt-1", g.NewID())
	assert.Equal(t, "evt-2", g.NewID())
}

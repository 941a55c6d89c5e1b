package series

import (
	"fmt"
	"math"
	"testing"
)

func TestClock_AdvanceMatchesStepCount(t *testing.T) {
	for _, n := range []int{1, 2, 7, 25, 1000, 12345} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			c := NewClock(DefaultStep)
			var last Tick
			for i := 0; i < n; i++ {
				last = c.Advance()
			}
			want := math.Round(float64(n)*DefaultStep*10) / 10
			if float64(last) != want {
				t.Errorf("tick after %d updates = %v, want %v", n, last, want)
			}
			if c.Now() != last {
				t.Errorf("Now() = %v, want %v", c.Now(), last)
			}
		})
	}
}

func TestClock_NeverDecreases(t *testing.T) {
	c := NewClock(0.1)
	prev := c.Now()
	for i := 0; i < 500; i++ {
		next := c.Advance()
		if next <= prev {
			t.Fatalf("tick went from %v to %v", prev, next)
		}
		prev = next
	}
	if prev != 50 {
		t.Errorf("after 500 steps of 0.1 tick = %v, want 50", prev)
	}
}

func TestClock_DefaultStep(t *testing.T) {
	c := NewClock(0)
	if got := c.Advance(); got != 0.5 {
		t.Errorf("first tick = %v, want 0.5", got)
	}
}

func TestBuffer_UnboundedKeepsEverything(t *testing.T) {
	b := NewBuffer(Retention{})
	for i := 1; i <= 25; i++ {
		b.Append(Tick(float64(i)*0.5), float64(i))
	}
	if b.Len() != 25 {
		t.Fatalf("len = %d, want 25", b.Len())
	}
	pts := b.Points()
	for i := 1; i < len(pts); i++ {
		if pts[i].Time <= pts[i-1].Time {
			t.Fatalf("points out of order at %d: %v then %v", i, pts[i-1].Time, pts[i].Time)
		}
	}
}

func TestBuffer_MaxPointsEviction(t *testing.T) {
	b := NewBuffer(Retention{MaxPoints: 20})
	for i := 1; i <= 25; i++ {
		b.Append(Tick(i), float64(i))
	}
	if b.Len() != 20 {
		t.Fatalf("len = %d, want 20", b.Len())
	}
	pts := b.Points()
	if pts[0].Value != 6 {
		t.Errorf("oldest retained value = %v, want 6", pts[0].Value)
	}
	last, ok := b.Last()
	if !ok || last.Value != 25 {
		t.Errorf("Last() = %v, %v; want 25, true", last, ok)
	}
}

func TestBuffer_MaxAgeEviction(t *testing.T) {
	b := NewBuffer(Retention{MaxAge: 2})
	for i := 1; i <= 10; i++ {
		b.Append(Tick(float64(i)*0.5), 1)
	}
	// newest tick is 5.0, so points before 3.0 are gone
	pts := b.Points()
	if len(pts) != 5 {
		t.Fatalf("len = %d, want 5: %v", len(pts), pts)
	}
	if pts[0].Time != 3 {
		t.Errorf("oldest tick = %v, want 3", pts[0].Time)
	}
}

func TestBuffer_PointsIsACopy(t *testing.T) {
	b := NewBuffer(Retention{})
	b.Append(0.5, 0.12)
	pts := b.Points()
	pts[0].Value = 99
	if got, _ := b.Last(); got.Value != 0.12 {
		t.Errorf("buffer mutated through Points(): %v", got.Value)
	}
}

func TestBuffer_LastOnEmpty(t *testing.T) {
	b := NewBuffer(Retention{})
	if _, ok := b.Last(); ok {
		t.Error("Last() on empty buffer should report false")
	}
	if n := len(b.Points()); n != 0 {
		t.Errorf("Points() on empty buffer has %d entries", n)
	}
}

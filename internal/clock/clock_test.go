package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := NewFake(epoch)
	c.Advance(5 * time.Second)
	if got, want := c.Now(), epoch.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("Now() = %v, want %v", got, want)
	}
}

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	select {
	case <-tk.C:
		t.Fatal("ticker fired before Advance")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker did not fire after Advance")
	}
}

func TestFakeTickerDropsOverflow(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Second)
	c.Advance(5 * time.Second)

	n := 0
	for {
		select {
		case <-tk.C:
			n++
			continue
		default:
		}
		break
	}
	if n != 1 {
		t.Fatalf("buffered ticks = %d, want 1", n)
	}
}

func TestFakeStoppedTickerIsSilent(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Second)
	tk.Stop()
	c.Advance(3 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

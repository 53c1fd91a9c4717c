// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package shutdown

import (
	"context"
	"testing"
	"time"
)

func TestDrainWaitsForTrackedWork(t *testing.T) {
	c := New(context.Background())
	doneTrack := c.Track()

	go func() {
		<-c.Done()
		time.Sleep(20 * time.Millisecond)
		doneTrack()
	}()

	if !c.Drain(time.Second) {
		t.Fatal("expected clean drain")
	}
}

func TestDrainTimesOutOnStragglers(t *testing.T) {
	c := New(context.Background())
	c.Track() // never released

	if c.Drain(50 * time.Millisecond) {
		t.Fatal("expected drain timeout")
	}
}

func TestTriggerIsIdempotent(t *testing.T) {
	c := New(context.Background())
	c.Trigger()
	c.Trigger()
	select {
	case <-c.Done():
	default:
		t.Fatal("expected context to be canceled")
	}
}

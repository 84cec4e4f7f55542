package confirm

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestForeignIdentityIsSilentlyIgnored(t *testing.T) {
	t.Parallel()
	c := New("owner")
	for i := 0; i < 25; i++ {
		if c.Decide(fmt.Sprintf("intruder-%d", i), true) {
			t.Fatal("foreign identity must not decide the control")
		}
	}
	if c.State() != Pending {
		t.Fatalf("state = %v after spurious calls, want Pending", c.State())
	}
}

func TestOwnerDecides(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		confirmed bool
		want      State
	}{
		{name: "confirm", confirmed: true, want: Confirmed},
		{name: "cancel", confirmed: false, want: Cancelled},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := New("owner")
			if !c.Decide("owner", tt.confirmed) {
				t.Fatal("owner decision rejected")
			}
			if c.State() != tt.want {
				t.Fatalf("state = %v, want %v", c.State(), tt.want)
			}
			// Decisions are final.
			if c.Decide("owner", !tt.confirmed) {
				t.Fatal("second decision must be a no-op")
			}
			if c.State() != tt.want {
				t.Fatalf("state changed after repeat decision: %v", c.State())
			}
		})
	}
}

func TestWaitUnblocksOnDecision(t *testing.T) {
	t.Parallel()
	c := New("owner")
	done := make(chan State, 1)
	go func() {
		st, _ := c.Wait(context.Background())
		done <- st
	}()

	time.Sleep(10 * time.Millisecond)
	c.Decide("owner", true)

	select {
	case st := <-done:
		if st != Confirmed {
			t.Fatalf("Wait returned %v, want Confirmed", st)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after decision")
	}
}

func TestWaitHasNoInternalTimeout(t *testing.T) {
	t.Parallel()
	c := New("owner")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	st, err := c.Wait(ctx)
	if err == nil {
		t.Fatal("Wait must only end via context")
	}
	if st != Pending {
		t.Fatalf("undecided control = %v, want Pending", st)
	}
}

func TestRegistryRouting(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := New("owner")
	r.Add(c)

	if r.Decide("missing", "owner", true) {
		t.Fatal("unknown control id must be ignored")
	}
	if !r.Decide(c.ID(), "owner", true) {
		t.Fatal("known control with owner identity should decide")
	}

	r.Remove(c.ID())
	if _, ok := r.Get(c.ID()); ok {
		t.Fatal("control should be gone after Remove")
	}
}

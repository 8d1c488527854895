package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
)

func TestLogger_NotNil(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewStore_Usable(t *testing.T) {
	db := NewStore(t)
	if db == nil {
		t.Fatal("expected non-nil store")
	}
	if err := db.DB().PingContext(context.Background()); err != nil {
		t.Fatalf("PingContext: %v", err)
	}
}

func TestMockClient_ScriptedErrors(t *testing.T) {
	m := NewMockClient("res-1")
	m.MetricsErrs = []error{errors.New("boom")}

	batch := []models.Snapshot{NewSnapshot(models.Fields{"cpu": 1})}
	if err := m.SendMetrics(context.Background(), "res-1", batch); err == nil {
		t.Fatal("first SendMetrics should fail")
	}
	if err := m.SendMetrics(context.Background(), "res-1", batch); err != nil {
		t.Fatalf("second SendMetrics: %v", err)
	}

	calls := m.MetricsCalls()
	if len(calls) != 2 {
		t.Fatalf("MetricsCalls len = %d, want 2", len(calls))
	}
	if calls[0].Err == nil || calls[1].Err != nil {
		t.Errorf("recorded errors = [%v %v], want [boom <nil>]", calls[0].Err, calls[1].Err)
	}
}

func TestMockClient_Register(t *testing.T) {
	m := NewMockClient("res-1")
	id, err := m.Register(context.Background(), NewRegistration())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id != "res-1" {
		t.Errorf("id = %q, want res-1", id)
	}
	if m.RegisterCalls() != 1 {
		t.Errorf("RegisterCalls = %d, want 1", m.RegisterCalls())
	}
}

func TestClock_Advance(t *testing.T) {
	c := NewClock()
	start := c.Now()
	c.Advance(5 * time.Minute)
	if got := c.Now().Sub(start); got != 5*time.Minute {
		t.Errorf("Advance: elapsed = %v, want 5m", got)
	}
}

func TestClock_Set(t *testing.T) {
	c := NewClock()
	target := time.Date(2030, 6, 15, 12, 0, 0, 0, time.UTC)
	c.Set(target)
	if !c.Now().Equal(target) {
		t.Errorf("Set: got %v, want %v", c.Now(), target)
	}
}

func TestClock_AfterFiresOnAdvance(t *testing.T) {
	c := NewClock()
	ch := c.After(3 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	c.Advance(3 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("After did not fire after Advance")
	}
}

func TestClock_TickerRepeats(t *testing.T) {
	c := NewClock()
	tk := c.NewTicker(time.Second)

	for i := 0; i < 3; i++ {
		c.Advance(time.Second)
		select {
		case <-tk.Chan():
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.Chan():
		t.Fatal("stopped ticker fired")
	default:
	}
	if c.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", c.Pending())
	}
}

func TestClock_WaitForTimers(t *testing.T) {
	c := NewClock()
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	<-done
}

package integrity

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ppiankov/delayguard/internal/model"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	otherGuard = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	account    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
)

type fakeGuards struct {
	guard, moduleGuard common.Address
	err                error
}

func (f fakeGuards) Guard(context.Context) (common.Address, error)       { return f.guard, f.err }
func (f fakeGuards) ModuleGuard(context.Context) (common.Address, error) { return f.moduleGuard, f.err }

type fakeSchedule struct {
	ts      uint64
	cleared bool
}

func (f *fakeSchedule) RemovalSchedule(context.Context, common.Address) (uint64, error) {
	return f.ts, nil
}

func (f *fakeSchedule) SetRemovalSchedule(_ context.Context, _ common.Address, ts uint64) error {
	f.ts = ts
	f.cleared = ts == 0
	return nil
}

func TestDualGuardInspect(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		g    fakeGuards
		want Status
	}{
		{"both", fakeGuards{guard: engineAddr, moduleGuard: engineAddr}, StatusInstalled},
		{"neither", fakeGuards{}, StatusRemoved},
		{"neither but other guard", fakeGuards{guard: otherGuard, moduleGuard: otherGuard}, StatusRemoved},
		{"guard only", fakeGuards{guard: engineAddr}, StatusPartial},
		{"module guard only", fakeGuards{moduleGuard: engineAddr}, StatusPartial},
	}
	for _, tt := range tests {
		got, err := DualGuard{}.Inspect(ctx, tt.g, engineAddr)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.name, tt.want, got)
		}
	}
}

func TestSingleGuardIgnoresModuleGuard(t *testing.T) {
	ctx := context.Background()
	st, _ := SingleGuard{}.Inspect(ctx, fakeGuards{guard: engineAddr}, engineAddr)
	if st != StatusInstalled {
		t.Errorf("expected installed, got %s", st)
	}
	st, _ = SingleGuard{}.Inspect(ctx, fakeGuards{moduleGuard: engineAddr}, engineAddr)
	if st != StatusRemoved {
		t.Errorf("expected removed, got %s", st)
	}
}

func TestInspectPropagatesReadError(t *testing.T) {
	_, err := DualGuard{}.Inspect(context.Background(), fakeGuards{err: errors.New("rpc down")}, engineAddr)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestFullyInstalled(t *testing.T) {
	ok, err := FullyInstalled(context.Background(), DualGuard{}, fakeGuards{guard: engineAddr}, engineAddr)
	if err != nil {
		t.Fatalf("FullyInstalled: %v", err)
	}
	if ok {
		t.Error("expected half-installed engine to not be fully installed")
	}
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]string{"": "dual", "dual": "dual", "SINGLE": "single"} {
		s, err := ParseStrategy(name)
		if err != nil {
			t.Fatalf("ParseStrategy(%q): %v", name, err)
		}
		if s.Name() != want {
			t.Errorf("ParseStrategy(%q): expected %s, got %s", name, want, s.Name())
		}
	}
	if _, err := ParseStrategy("triple"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestMonitorSteadyState(t *testing.T) {
	m := NewMonitor(DualGuard{}, engineAddr)
	s := &fakeSchedule{ts: 50}
	removed, err := m.Check(context.Background(), account, fakeGuards{guard: engineAddr, moduleGuard: engineAddr}, s, 100)
	if err != nil || removed {
		t.Fatalf("expected no-op, got removed=%v err=%v", removed, err)
	}
	if s.ts != 50 {
		t.Error("steady state must not touch the schedule")
	}
}

func TestMonitorRemovalConsumesMaturedSchedule(t *testing.T) {
	m := NewMonitor(DualGuard{}, engineAddr)
	s := &fakeSchedule{ts: 100}
	removed, err := m.Check(context.Background(), account, fakeGuards{}, s, 100)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !removed || !s.cleared {
		t.Errorf("expected schedule to be consumed, removed=%v cleared=%v", removed, s.cleared)
	}
}

func TestMonitorRemovalWithoutSchedule(t *testing.T) {
	m := NewMonitor(DualGuard{}, engineAddr)
	for _, ts := range []uint64{0, 101} {
		s := &fakeSchedule{ts: ts}
		_, err := m.Check(context.Background(), account, fakeGuards{}, s, 100)
		if !errors.Is(err, model.ErrInvalidTimestamp) {
			t.Errorf("schedule %d: expected ErrInvalidTimestamp, got %v", ts, err)
		}
	}
}

func TestMonitorHalfRemoved(t *testing.T) {
	m := NewMonitor(DualGuard{}, engineAddr)
	s := &fakeSchedule{ts: 1}
	_, err := m.Check(context.Background(), account, fakeGuards{moduleGuard: engineAddr}, s, 100)
	if !errors.Is(err, model.ErrImproperGuardSetup) {
		t.Fatalf("expected ErrImproperGuardSetup, got %v", err)
	}
	if s.cleared {
		t.Error("half-removed configuration must not consume the schedule")
	}
}

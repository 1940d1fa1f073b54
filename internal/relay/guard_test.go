package relay

import "testing"

func TestGuard_SingleFlight(t *testing.T) {
	var g Guard

	if !g.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}

	if g.TryAcquire() {
		t.Fatal("second acquire while busy should fail")
	}

	if !g.Busy() {
		t.Error("guard should report busy")
	}

	g.Release()

	if g.Busy() {
		t.Error("guard should be idle after release")
	}

	if !g.TryAcquire() {
		t.Error("acquire after release should succeed")
	}
}

func TestGuard_ReleaseWhenIdleIsNoop(t *testing.T) {
	var g Guard

	g.Release()

	if !g.TryAcquire() {
		t.Error("acquire should succeed after a spurious release")
	}
}

package terminalmgr

import (
	"testing"
	"time"
)

func TestPingSuccessAdvancesTurnOnToConnect(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	s.TurnOn()
	s.PingSuccess()
	if s.Request_() != RequestConnect {
		t.Fatalf("expected request connect, got %v", s.Request_())
	}
	if !s.Online() {
		t.Fatal("expected online true")
	}
}

func TestPingErrorDegradesRestartToTurnOn(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	s.Restart()
	s.PingError()
	if s.Request_() != RequestTurnOn {
		t.Fatalf("expected request turn_on, got %v", s.Request_())
	}
	if s.Online() {
		t.Fatal("expected online false")
	}
}

func TestPingErrorClearsTurnOffRequest(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	s.TurnOff()
	s.PingError()
	if s.Request_() != RequestNone {
		t.Fatalf("expected request none, got %v", s.Request_())
	}
}

func TestConnectSuccessClearsConnectRequest(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	s.TurnOn()
	s.PingSuccess()
	s.ConnectSuccess()
	if s.Request_() != RequestNone {
		t.Fatalf("expected request none, got %v", s.Request_())
	}
	if !s.Connected() {
		t.Fatal("expected connected true")
	}
}

func TestRequestExpiresAfterTimeout(t *testing.T) {
	s := NewState(RequestTimeouts{TurnOn: 10 * time.Millisecond})
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }
	s.TurnOn()

	fakeNow = fakeNow.Add(time.Millisecond)
	s.Update()
	if s.Request_() != RequestTurnOn {
		t.Fatal("request should not have expired yet")
	}

	fakeNow = fakeNow.Add(20 * time.Millisecond)
	s.Update()
	if s.Request_() != RequestNone {
		t.Fatalf("expected request to have expired, got %v", s.Request_())
	}
}

func TestCanConnectRejectsShuttingDownOrError(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	s.PingSuccess()
	if !s.CanConnect() {
		t.Fatal("expected can connect true when online and idle")
	}
	s.TurnOff()
	if s.CanConnect() {
		t.Fatal("expected can connect false while shutting down")
	}

	s2 := NewState(DefaultRequestTimeouts())
	s2.PingSuccess()
	s2.ExecuteError()
	if s2.CanConnect() {
		t.Fatal("expected can connect false while in error")
	}
}

func TestCanExecuteHonorsDisconnectMode(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	if s.CanExecute(false) {
		t.Fatal("expected cannot execute: offline and not connected")
	}
	s.PingSuccess()
	if !s.CanExecute(true) {
		t.Fatal("expected can execute in disconnect mode once online")
	}
}

func TestOnChangeOnlyFiresOnActualChange(t *testing.T) {
	s := NewState(DefaultRequestTimeouts())
	count := 0
	s.OnChange(func(*State) { count++ })

	s.PingSuccess()
	s.PingSuccess()
	if count != 1 {
		t.Fatalf("expected exactly one notification, got %d", count)
	}
}

package session

import "testing"

type fakeTimer struct {
	stopped bool
}

func (f *fakeTimer) Stop() { f.stopped = true }

func TestNewDefaultsShouldReconnect(t *testing.T) {
	s := New()
	if !s.ShouldReconnect() {
		t.Error("New() should default shouldReconnect to true")
	}
	if s.Connected() {
		t.Error("New() should default connected to false")
	}
}

func TestMarkConnectedSetsIdentity(t *testing.T) {
	s := New()
	s.MarkConnected("tun-1", "demo", "https://demo.tunnl.fit")

	tunnelID, subdomain, publicURL, connected := s.Snapshot()
	if !connected {
		t.Error("Connected() = false after MarkConnected")
	}
	if tunnelID != "tun-1" || subdomain != "demo" || publicURL != "https://demo.tunnl.fit" {
		t.Errorf("Snapshot() = (%q, %q, %q), want (tun-1, demo, https://demo.tunnl.fit)", tunnelID, subdomain, publicURL)
	}
}

func TestMarkDisconnectedStopsLivenessTimers(t *testing.T) {
	s := New()
	s.MarkConnected("tun-1", "demo", "https://demo.tunnl.fit")

	hb := &fakeTimer{}
	probe := &fakeTimer{}
	s.SetHeartbeatTimer(hb)
	s.SetProbeTimer(probe)

	s.MarkDisconnected()

	if s.Connected() {
		t.Error("Connected() = true after MarkDisconnected")
	}
	if !hb.stopped {
		t.Error("heartbeat timer not stopped on disconnect")
	}
	if !probe.stopped {
		t.Error("probe timer not stopped on disconnect")
	}
}

func TestSetReconnectTimerReplacesPrevious(t *testing.T) {
	s := New()
	first := &fakeTimer{}
	second := &fakeTimer{}

	s.SetReconnectTimer(first)
	s.SetReconnectTimer(second)

	if !first.stopped {
		t.Error("first reconnect timer should be stopped when replaced")
	}
	if second.stopped {
		t.Error("second reconnect timer should still be armed")
	}
}

func TestStopAllTimersReleasesEverything(t *testing.T) {
	s := New()
	hb, probe, reconnect := &fakeTimer{}, &fakeTimer{}, &fakeTimer{}
	s.SetHeartbeatTimer(hb)
	s.SetProbeTimer(probe)
	s.SetReconnectTimer(reconnect)

	s.StopAllTimers()

	if !hb.stopped || !probe.stopped || !reconnect.stopped {
		t.Error("StopAllTimers() did not stop every timer")
	}
}

func TestSetShouldReconnect(t *testing.T) {
	s := New()
	s.SetShouldReconnect(false)
	if s.ShouldReconnect() {
		t.Error("ShouldReconnect() = true after SetShouldReconnect(false)")
	}
}

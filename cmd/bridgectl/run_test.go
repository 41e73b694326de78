package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rkdial/bridgectl/internal/fastwire"
	"github.com/rkdial/bridgectl/internal/history"
	"github.com/rkdial/bridgectl/internal/probe"
)

// startBridge runs a loopback responder answering every datagram with
// reply; nil keeps it silent.
func startBridge(t *testing.T, reply []byte) int {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, fastwire.MaxDatagram)
		for {
			_, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if reply != nil {
				conn.WriteToUDP(reply, addr) //nolint:errcheck
			}
		}
	}()

	return conn.LocalAddr().(*net.UDPAddr).Port
}

func stateReply(flags uint8, seek int32, length uint32) []byte {
	s := &fastwire.State{
		Magic:      fastwire.Magic,
		Version:    fastwire.Version,
		Flags:      flags,
		Volume:     50,
		VolumeMin:  0,
		VolumeMax:  100,
		VolumeStep: 1,
	}
	s.SetPosition(seek, length)
	return s.Encode()
}

func newTestApp(t *testing.T, port int) (*app, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &app{
		out: &out,
		cfg: probe.Config{Host: "127.0.0.1", Port: port, Zone: "living_room", Timeout: 2 * time.Second},
	}, &out
}

func TestRunPollPlayingSummary(t *testing.T) {
	port := startBridge(t, stateReply(0x01, 45, 180))
	a, out := newTestApp(t, port)

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Got 48 bytes from",
		"magic=0x524B ver=1 flags=0x01",
		"volume=50.0 min=0.0 max=100.0 step=1.0",
		"seek_position=45 length=180",
		"playing=true",
		"progress=25%",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunPollStopped(t *testing.T) {
	port := startBridge(t, stateReply(0x00, 30, 120))
	a, out := newTestApp(t, port)

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "playing=false") || !strings.Contains(got, "progress=25%") {
		t.Errorf("output:\n%s", got)
	}
}

func TestRunPollTimeout(t *testing.T) {
	port := startBridge(t, nil)
	a, out := newTestApp(t, port)
	a.cfg.Timeout = 200 * time.Millisecond

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "No response (timeout)" {
		t.Errorf("output = %q, want the timeout notice", got)
	}
}

func TestRunPollUnexpectedSize(t *testing.T) {
	port := startBridge(t, []byte{0x4B, 0x52, 0x01, 0xFF})
	a, out := newTestApp(t, port)

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "Unexpected size: 4b5201ff") {
		t.Errorf("output:\n%s", got)
	}
}

func TestRunPollSentinelWarnings(t *testing.T) {
	cases := []struct {
		name     string
		seek     int32
		length   uint32
		want     string
		excluded string
	}{
		{"no duration", 45, 0, "bridge not sending duration", "bridge not sending seek"},
		{"no seek", -1, 100, "bridge not sending seek position", "bridge not sending duration"},
		// Both sentinels: only the duration warning shows.
		{"both", -1, 0, "bridge not sending duration", "bridge not sending seek"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			port := startBridge(t, stateReply(0x01, tc.seek, tc.length))
			a, out := newTestApp(t, port)

			if err := a.runPoll(); err != nil {
				t.Fatalf("runPoll: %v", err)
			}
			got := out.String()
			if !strings.Contains(got, tc.want) {
				t.Errorf("output missing %q:\n%s", tc.want, got)
			}
			if strings.Contains(got, tc.excluded) {
				t.Errorf("output should not contain %q:\n%s", tc.excluded, got)
			}
			if strings.Contains(got, "progress=") {
				t.Errorf("no progress expected:\n%s", got)
			}
		})
	}
}

func TestRunPollRecordsHistory(t *testing.T) {
	port := startBridge(t, stateReply(0x01, 45, 180))
	a, _ := newTestApp(t, port)

	if err := a.openHistory(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("openHistory: %v", err)
	}
	defer a.closeHistory()

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}

	records, err := a.store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	r := records[0]
	if r.Outcome != history.OutcomeOK || !r.Playing || r.Seek != 45 || r.Length != 180 {
		t.Errorf("record = %+v", r)
	}
	if r.Zone != "living_room" {
		t.Errorf("zone = %q", r.Zone)
	}
}

func TestRunPollKeepsLastHash(t *testing.T) {
	s := &fastwire.State{Magic: fastwire.Magic, Version: fastwire.Version}
	for i := range s.Hash {
		s.Hash[i] = byte(0x10 + i)
	}
	s.SetPosition(-1, 0)
	port := startBridge(t, s.Encode())
	a, _ := newTestApp(t, port)

	if err := a.runPoll(); err != nil {
		t.Fatalf("runPoll: %v", err)
	}
	if a.lastHash != s.Hash {
		t.Errorf("lastHash = %x, want the reply hash %x", a.lastHash, s.Hash)
	}
}

func TestPrintHistoryEmpty(t *testing.T) {
	a, out := newTestApp(t, 1)
	if err := a.openHistory(filepath.Join(t.TempDir(), "history.db")); err != nil {
		t.Fatalf("openHistory: %v", err)
	}
	defer a.closeHistory()

	if err := a.printHistory(20); err != nil {
		t.Fatalf("printHistory: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "No recorded polls" {
		t.Errorf("output = %q", got)
	}
}

package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rkdial/bridgectl/internal/fastwire"
	"github.com/rkdial/bridgectl/internal/history"
	"github.com/rkdial/bridgectl/internal/probe"
)

// app carries the resolved configuration and sinks for one invocation.
// Keeping output on an io.Writer lets the tests capture it.
type app struct {
	out      io.Writer
	cfg      probe.Config
	interval time.Duration
	store    *history.Store

	// lastHash is the digest of the most recent full state, passed on
	// subsequent watch polls so the bridge can take its fast path.
	lastHash [fastwire.HashSize]byte
}

func (a *app) openHistory(path string) error {
	s, err := history.Open(path)
	if err != nil {
		return err
	}
	a.store = s
	return nil
}

func (a *app) closeHistory() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("Closing history database: %v", err)
		}
	}
}

// runPoll performs one fast-state exchange and prints the outcome.
// All three outcomes (decoded state, timeout, malformed reply) end in
// a normal return; only transport-level failures surface as errors.
func (a *app) runPoll() error {
	cfg := a.cfg
	cfg.Hash = a.lastHash

	res, err := probe.Poll(cfg)
	switch {
	case errors.Is(err, probe.ErrTimeout):
		fmt.Fprintln(a.out, "No response (timeout)")
		a.record(history.OutcomeTimeout, nil, 0)
		return nil
	case err != nil:
		return err
	}

	a.printReply(res)
	if res.State == nil {
		a.record(history.OutcomeMalformed, nil, res.RTT)
		return nil
	}
	a.lastHash = res.State.Hash
	a.record(history.OutcomeOK, res.State, res.RTT)
	return nil
}

// runWatch polls until interrupted. Each iteration is an independent
// single-shot exchange; a SIGINT between polls stops the loop.
func (a *app) runWatch() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		if err := a.runPoll(); err != nil {
			log.Printf("Poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.interval):
		}
	}
}

// runDiscover broadcasts a poll and reports where the reply came from.
func (a *app) runDiscover(timeout time.Duration) error {
	res, ip, err := probe.Discover(timeout)
	if errors.Is(err, probe.ErrTimeout) {
		fmt.Fprintln(a.out, "No response (timeout)")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Bridge discovered at %s\n", ip)
	a.printReply(res)
	return nil
}

func (a *app) runSetVolume(value float32) error {
	if err := probe.SetVolume(a.cfg, value); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Sent volume=%.1f to %s:%d zone=%q\n", value, a.cfg.Host, a.cfg.Port, a.cfg.Zone)
	return nil
}

// printReply renders one reply: the decoded summary for a full state
// record, or the raw hex for anything shorter.
func (a *app) printReply(res *probe.Result) {
	fmt.Fprintf(a.out, "Got %d bytes from %s\n", len(res.Raw), res.Addr)

	s := res.State
	if s == nil {
		fmt.Fprintf(a.out, "  Unexpected size: %s\n", hex.EncodeToString(res.Raw))
		return
	}

	fmt.Fprintf(a.out, "  magic=0x%04X ver=%d flags=0x%02X\n", s.Magic, s.Version, s.Flags)
	if !s.Valid() {
		fmt.Fprintln(a.out, "  warning: unexpected magic or version")
	}
	fmt.Fprintf(a.out, "  sha=%s\n", hex.EncodeToString(s.Hash[:8]))
	fmt.Fprintf(a.out, "  volume=%.1f min=%.1f max=%.1f step=%.1f\n",
		s.Volume, s.VolumeMin, s.VolumeMax, s.VolumeStep)

	seek, seekOK := s.Seek()
	length, lengthOK := s.Length()
	fmt.Fprintf(a.out, "  seek_position=%s length=%s\n", seekField(seek, seekOK), lengthField(length, lengthOK))
	fmt.Fprintf(a.out, "  playing=%v\n", s.Playing())

	// Length sentinel wins when both are absent; the messages are
	// mutually exclusive.
	if pct, ok := s.Progress(); ok {
		fmt.Fprintf(a.out, "  progress=%d%%\n", pct)
	} else if !lengthOK {
		fmt.Fprintln(a.out, "  warning: length=0, bridge not sending duration")
	} else if !seekOK {
		fmt.Fprintln(a.out, "  warning: seek=-1, bridge not sending seek position")
	}
}

func seekField(seek int32, ok bool) string {
	if !ok {
		return "-1"
	}
	return fmt.Sprintf("%d", seek)
}

func lengthField(length uint32, ok bool) string {
	if !ok {
		return "0"
	}
	return fmt.Sprintf("%d", length)
}

// record appends the poll outcome to the history database, when one is
// configured. History failures are logged, never fatal.
func (a *app) record(outcome string, s *fastwire.State, rtt time.Duration) {
	if a.store == nil {
		return
	}
	r := &history.Record{
		Host:    a.cfg.Host,
		Port:    a.cfg.Port,
		Zone:    a.cfg.Zone,
		Outcome: outcome,
		Seek:    -1,
	}
	if s != nil {
		r.Playing = s.Playing()
		r.Volume = float64(s.Volume)
		if seek, ok := s.Seek(); ok {
			r.Seek = int(seek)
		}
		if length, ok := s.Length(); ok {
			r.Length = int(length)
		}
	}
	if rtt > 0 {
		r.RTTMillis = rtt.Milliseconds()
	}
	if err := a.store.Add(context.Background(), r); err != nil {
		log.Printf("Recording poll: %v", err)
	}
}

// printHistory lists the most recent recorded polls, newest first.
func (a *app) printHistory(limit int) error {
	records, err := a.store.Recent(context.Background(), limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.out, "No recorded polls")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %s:%d zone=%q  %s",
			r.CreatedAt.Local().Format(time.RFC3339), r.Host, r.Port, r.Zone, r.Outcome)
		if r.Outcome == history.OutcomeOK {
			line += fmt.Sprintf("  playing=%v volume=%.1f seek=%d length=%d rtt=%dms",
				r.Playing, r.Volume, r.Seek, r.Length, r.RTTMillis)
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

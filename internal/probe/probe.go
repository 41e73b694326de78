// Package probe performs single-shot UDP exchanges with a bridge:
// fast-state polls, broadcast discovery, and fire-and-forget commands.
//
// Every operation opens its own socket, sends exactly one datagram and
// closes the socket on all paths. There is no retry; a timeout is a
// first-class outcome reported as ErrTimeout.
package probe

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rkdial/bridgectl/internal/fastwire"
)

// Defaults for a probe against a bridge on the local network.
const (
	DefaultHost    = "192.168.50.225"
	DefaultPort    = 8089
	DefaultTimeout = 2 * time.Second
)

// ErrTimeout reports that no reply arrived within the configured bound.
// This is an expected outcome for an unreachable or UDP-unaware bridge,
// not a transport failure.
var ErrTimeout = errors.New("probe: no response within timeout")

// Config selects the bridge endpoint and zone for a poll.
type Config struct {
	Host    string
	Port    int
	Zone    string
	Timeout time.Duration

	// Hash is the digest of the last state seen by the client. Zero
	// means "no cached state"; the bridge then always answers in full.
	Hash [fastwire.HashSize]byte
}

// withDefaults fills the zero fields of a Config.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Result is the outcome of one completed exchange.
// State is nil when the reply was too short to decode; Raw then holds
// the payload for hex display.
type Result struct {
	Raw   []byte
	Addr  net.Addr
	State *fastwire.State
	RTT   time.Duration
}

// Poll sends one fast-state request and waits for one reply.
// A missing reply yields ErrTimeout. A reply shorter than the state
// record is not an error: the Result carries the raw bytes with a nil
// State.
func Poll(cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()

	raddr, err := resolve(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	req := &fastwire.Request{Hash: cfg.Hash, ZoneID: cfg.Zone}
	return exchange(raddr, req.Encode(), cfg.Timeout)
}

// Discover broadcasts a fast-state request with an empty zone to the
// default UDP fast port and returns the first reply along with the
// sender's IP, which is the bridge's address.
func Discover(timeout time.Duration) (*Result, net.IP, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	req := &fastwire.Request{}
	res, err := exchange(&net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: DefaultPort,
	}, req.Encode(), timeout)
	if err != nil {
		return nil, nil, err
	}
	udpAddr, ok := res.Addr.(*net.UDPAddr)
	if !ok {
		return nil, nil, fmt.Errorf("probe: unexpected reply address type %T", res.Addr)
	}
	return res, udpAddr.IP, nil
}

// SetVolume sends a fire-and-forget volume command. No reply is read;
// the effect shows up in the next poll.
func SetVolume(cfg Config, value float32) error {
	cfg = cfg.withDefaults()

	raddr, err := resolve(cfg.Host, cfg.Port)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("probe: open socket: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	cmd := &fastwire.Command{Cmd: fastwire.CmdSetVolume, ZoneID: cfg.Zone, Value: value}
	if _, err := conn.Write(cmd.Encode()); err != nil {
		return fmt.Errorf("probe: send command: %w", err)
	}
	return nil
}

// exchange performs the send-one, receive-one pattern shared by Poll
// and Discover: one datagram out, one blocking read bounded by the
// deadline, socket closed on every path.
func exchange(dst *net.UDPAddr, payload []byte, timeout time.Duration) (*Result, error) {
	// An unbound local socket; discovery needs sendto semantics to a
	// broadcast address, so the socket is never connected.
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("probe: open socket: %w", err)
	}
	defer conn.Close() //nolint:errcheck

	start := time.Now()
	if _, err := conn.WriteToUDP(payload, dst); err != nil {
		return nil, fmt.Errorf("probe: send request: %w", err)
	}

	if err := conn.SetReadDeadline(start.Add(timeout)); err != nil {
		return nil, fmt.Errorf("probe: set deadline: %w", err)
	}

	buf := make([]byte, fastwire.MaxDatagram)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("probe: receive: %w", err)
	}

	res := &Result{
		Raw:  buf[:n],
		Addr: addr,
		RTT:  time.Since(start),
	}
	if state, err := fastwire.DecodeState(res.Raw); err == nil {
		res.State = state
	}
	return res, nil
}

// resolve turns a host string (IP or name) and port into a UDP address.
func resolve(host string, port int) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("probe: resolve %s: %w", host, err)
	}
	return raddr, nil
}

// ParseBridgeBase derives the UDP fast endpoint from a bridge base URL
// ("http://192.168.50.225:8088"), a host:port pair, or a bare host.
// The returned port is the HTTP port plus the fast-path offset; a bare
// host gets the default HTTP port 8088 first.
func ParseBridgeBase(s string) (host string, port int, err error) {
	hp := s
	if i := strings.Index(hp, "://"); i >= 0 {
		hp = hp[i+3:]
	}
	if i := strings.IndexByte(hp, '/'); i >= 0 {
		hp = hp[:i]
	}
	if hp == "" {
		return "", 0, fmt.Errorf("probe: empty bridge base %q", s)
	}

	httpPort := 8088
	if i := strings.LastIndexByte(hp, ':'); i >= 0 {
		p, perr := strconv.Atoi(hp[i+1:])
		if perr != nil || p <= 0 || p > 65535 {
			return "", 0, fmt.Errorf("probe: bad port in bridge base %q", s)
		}
		httpPort = p
		hp = hp[:i]
	}
	if hp == "" {
		return "", 0, fmt.Errorf("probe: empty host in bridge base %q", s)
	}
	return hp, httpPort + fastwire.PortOffset, nil
}

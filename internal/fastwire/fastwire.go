// Package fastwire defines the binary datagram layouts of the bridge's
// UDP fast-state protocol and their encoders/decoders.
//
// All multi-byte fields are little-endian and live at fixed offsets.
// The codec packs and unpacks them explicitly rather than going through
// reflection; the layouts here are a wire contract with the bridge.
package fastwire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Magic identifies the protocol family: "RK" when read as a
// little-endian uint16.
const Magic = 0x524B

// Version is the protocol version the bridge currently speaks.
const Version = 1

// PortOffset is added to the bridge's HTTP port to obtain the UDP
// fast-state port (HTTP on 8088 answers fast polls on 8089).
const PortOffset = 1

// Field and datagram sizes.
const (
	HashSize   = 20 // SHA-1 digest width
	ZoneIDSize = 64 // UTF-8, zero-padded

	// Datagram sizes: request 86, state reply 48, command 72.
	RequestSize = 2 + HashSize + ZoneIDSize
	StateSize   = 2 + 1 + 1 + HashSize + 4*4 + 4 + 4
	CommandSize = 2 + 1 + 1 + ZoneIDSize + 4

	// MaxDatagram bounds the receive buffer for any reply.
	MaxDatagram = 128
)

// Command opcodes.
const (
	CmdSetVolume = 1
)

// State flag bits.
const (
	flagPlaying = 1 << 0
)

// Sentinels used by the bridge in place of absent measurements.
const (
	seekUnknown   = -1 // seek position not provided
	lengthUnknown = 0  // duration not provided
)

// ErrShortResponse reports a reply too small to hold a full state
// record. Callers are expected to surface the raw bytes instead of
// attempting a partial decode.
var ErrShortResponse = errors.New("fastwire: response shorter than state record")

// ErrShortRequest reports a request datagram smaller than the fixed
// request layout.
var ErrShortRequest = errors.New("fastwire: request shorter than request record")

// Request is the fast-state poll datagram sent to the bridge.
// A zero Hash asks for the full state unconditionally; otherwise the
// bridge may skip work when the client's cached state is still current.
type Request struct {
	Hash   [HashSize]byte
	ZoneID string
}

// Encode packs the request into its fixed 86-byte layout.
// The zone identifier is encoded as UTF-8, zero-padded to 64 bytes and
// truncated at 64 bytes. Truncation may split a multi-byte code point,
// which the bridge tolerates.
func (r *Request) Encode() []byte {
	buf := make([]byte, RequestSize)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	copy(buf[2:2+HashSize], r.Hash[:])
	copy(buf[2+HashSize:], r.ZoneID)
	return buf
}

// DecodeRequest unpacks a request datagram. Extra trailing bytes are
// ignored. The zone identifier is returned with its zero padding
// stripped.
func DecodeRequest(payload []byte) (*Request, error) {
	if len(payload) < RequestSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortRequest, len(payload))
	}
	var r Request
	copy(r.Hash[:], payload[2:2+HashSize])
	r.ZoneID = trimZoneID(payload[2+HashSize : RequestSize])
	return &r, nil
}

// State is the decoded 48-byte fast-state reply.
//
// The raw seek and length fields carry in-band sentinels (-1 and 0
// respectively) for "not provided"; use Seek, Length and Progress for
// the tagged views.
type State struct {
	Magic      uint16
	Version    uint8
	Flags      uint8
	Hash       [HashSize]byte
	Volume     float32
	VolumeMin  float32
	VolumeMax  float32
	VolumeStep float32

	seek   int32
	length uint32
}

// DecodeState unpacks a fast-state reply. Payloads shorter than
// StateSize yield ErrShortResponse; trailing bytes beyond the state
// record are ignored.
func DecodeState(payload []byte) (*State, error) {
	if len(payload) < StateSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrShortResponse, len(payload))
	}
	var s State
	s.Magic = binary.LittleEndian.Uint16(payload[0:2])
	s.Version = payload[2]
	s.Flags = payload[3]
	copy(s.Hash[:], payload[4:24])
	s.Volume = float32FromLE(payload[24:28])
	s.VolumeMin = float32FromLE(payload[28:32])
	s.VolumeMax = float32FromLE(payload[32:36])
	s.VolumeStep = float32FromLE(payload[36:40])
	s.seek = int32(binary.LittleEndian.Uint32(payload[40:44]))
	s.length = binary.LittleEndian.Uint32(payload[44:48])
	return &s, nil
}

// Encode packs the state into its 48-byte layout. Used by tests and
// diagnostic tooling that plays the bridge side of an exchange.
func (s *State) Encode() []byte {
	buf := make([]byte, StateSize)
	binary.LittleEndian.PutUint16(buf[0:2], s.Magic)
	buf[2] = s.Version
	buf[3] = s.Flags
	copy(buf[4:24], s.Hash[:])
	putFloat32LE(buf[24:28], s.Volume)
	putFloat32LE(buf[28:32], s.VolumeMin)
	putFloat32LE(buf[32:36], s.VolumeMax)
	putFloat32LE(buf[36:40], s.VolumeStep)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(s.seek))
	binary.LittleEndian.PutUint32(buf[44:48], s.length)
	return buf
}

// Valid reports whether the reply carries the expected magic and
// version. Decoding does not enforce this; callers decide whether to
// trust an off-version reply.
func (s *State) Valid() bool {
	return s.Magic == Magic && s.Version == Version
}

// Playing reports bit 0 of the flags field. The remaining bits are
// reserved and surfaced raw via Flags.
func (s *State) Playing() bool {
	return s.Flags&flagPlaying != 0
}

// Seek returns the seek position in seconds. ok is false when the
// bridge sent the -1 sentinel (seek position not provided).
func (s *State) Seek() (int32, bool) {
	if s.seek == seekUnknown {
		return 0, false
	}
	return s.seek, true
}

// Length returns the track length in seconds. ok is false when the
// bridge sent the 0 sentinel (duration not provided).
func (s *State) Length() (uint32, bool) {
	if s.length == lengthUnknown {
		return 0, false
	}
	return s.length, true
}

// SetPosition sets the raw seek and length fields. Intended for tests
// and tooling that encodes replies; -1 and 0 select the sentinels.
func (s *State) SetPosition(seek int32, length uint32) {
	s.seek = seek
	s.length = length
}

// Progress returns floor(seek*100/length) as an integer percentage.
// ok is false when either sentinel is present; a negative seek other
// than the sentinel also yields no progress.
func (s *State) Progress() (int, bool) {
	length, ok := s.Length()
	if !ok {
		return 0, false
	}
	seek, ok := s.Seek()
	if !ok || seek < 0 {
		return 0, false
	}
	return int(int64(seek) * 100 / int64(length)), true
}

// Command is a fire-and-forget control datagram. No reply is expected;
// the next fast-state poll observes the effect.
type Command struct {
	Cmd    uint8
	ZoneID string
	Value  float32
}

// Encode packs the command into its fixed 72-byte layout:
// magic(2) + cmd(1) + reserved(1) + zone(64) + value(4).
func (c *Command) Encode() []byte {
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	buf[2] = c.Cmd
	copy(buf[4:4+ZoneIDSize], c.ZoneID)
	putFloat32LE(buf[4+ZoneIDSize:], c.Value)
	return buf
}

// DecodeCommand unpacks a control datagram.
func DecodeCommand(payload []byte) (*Command, error) {
	if len(payload) < CommandSize {
		return nil, fmt.Errorf("fastwire: command shorter than command record: got %d bytes", len(payload))
	}
	var c Command
	c.Cmd = payload[2]
	c.ZoneID = trimZoneID(payload[4 : 4+ZoneIDSize])
	c.Value = float32FromLE(payload[4+ZoneIDSize:])
	return &c, nil
}

func float32FromLE(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

func putFloat32LE(b []byte, v float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
}

// trimZoneID strips the zero padding from a fixed-width zone field.
func trimZoneID(field []byte) string {
	for i, b := range field {
		if b == 0 {
			return string(field[:i])
		}
	}
	return string(field)
}

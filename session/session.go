// Package session drives the Loke request/response state machine: the
// handshake, session open/negotiate, device-type query, PIT upload, and
// session teardown. The sequenced chunked file upload and the PIT download
// loop live one layer up, in the transfer package, built on the primitives
// this package exposes.
package session

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/daedaluz/lokeflash/packet"
	"github.com/daedaluz/lokeflash/transport"
)

// State is a point in the session lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateInterfaceClaimed
	StateProtocolInitialised
	StateSessionOpen
	StateSessionOpenEnlarged
	StateSessionClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInterfaceClaimed:
		return "interface-claimed"
	case StateProtocolInitialised:
		return "protocol-initialised"
	case StateSessionOpen:
		return "session-open"
	case StateSessionOpenEnlarged:
		return "session-open-enlarged"
	case StateSessionClosing:
		return "session-closing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Params are the transfer parameters negotiated for the current session.
type Params struct {
	PacketSize        int
	SequenceMaxLength int
	SequenceTimeout   time.Duration
}

// DefaultParams are the parameters in force before negotiation.
func DefaultParams() Params {
	return Params{PacketSize: 131072, SequenceMaxLength: 800, SequenceTimeout: 30 * time.Second}
}

// Enlarged returns the parameters negotiate_packet_size upgrades to when
// the device advertises support.
func (p Params) Enlarged() Params {
	return Params{PacketSize: 1048576, SequenceMaxLength: 30, SequenceTimeout: 120 * time.Second}
}

// ProtocolErrorKind classifies a ProtocolError.
type ProtocolErrorKind string

const (
	KindBadHandshake           ProtocolErrorKind = "bad_handshake"
	KindUnexpectedResponseType ProtocolErrorKind = "unexpected_response_type"
	KindNonZeroResult          ProtocolErrorKind = "non_zero_result"
	KindResponseSize           ProtocolErrorKind = "response_size"
	KindTransportFailure       ProtocolErrorKind = "transport_failure"
)

// ProtocolError reports a failed exchange: a bad handshake, an unexpected
// response type, a non-zero result where zero was required, or a response
// that didn't even parse.
type ProtocolError struct {
	Operation string
	Kind      ProtocolErrorKind
	Expected  string
	Received  string
	Err       error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("session: %s: %s", e.Operation, e.Kind)
	if e.Expected != "" || e.Received != "" {
		msg += fmt.Sprintf(" (expected %s, received %s)", e.Expected, e.Received)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

const controlTimeout = 6 * time.Second
const handshakeTimeout = time.Second

// Session drives the state machine described above over a transport.
// It holds a non-owning reference to Transport: closing the transport is
// the caller's responsibility.
type Session struct {
	t      transport.Transport
	state  State
	params Params
	logger *log.Logger
}

// New creates a Session in the Disconnected state. A nil logger discards
// diagnostic output.
func New(t transport.Transport, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Session{t: t, state: StateDisconnected, params: DefaultParams(), logger: logger}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Params returns the session's current transfer parameters.
func (s *Session) Params() Params { return s.params }

// SetParams overrides the session's transfer parameters directly, bypassing
// negotiation. Exposed for tests that need to exercise sequence-boundary
// behavior at a tractable scale.
func (s *Session) SetParams(p Params) { s.params = p }

// Init transitions the session from Interface-claimed to either
// Protocol-initialised (after a successful ODIN/LOKE handshake) or, when
// resume is true, directly to Session-open, skipping the handshake on the
// assumption the device is mid-session from a prior invocation.
func (s *Session) Init(resume bool) error {
	s.state = StateInterfaceClaimed
	if resume {
		s.state = StateSessionOpen
		return nil
	}
	if err := transport.Handshake(s.t, handshakeTimeout); err != nil {
		var hsErr *transport.HandshakeError
		if errors.As(err, &hsErr) {
			return &ProtocolError{
				Operation: "init_protocol",
				Kind:      KindBadHandshake,
				Expected:  hsErr.Expected,
				Received:  string(hsErr.Received),
				Err:       err,
			}
		}
		return &ProtocolError{Operation: "init_protocol", Kind: KindTransportFailure, Err: err}
	}
	s.state = StateProtocolInitialised
	return nil
}

// exchange sends request and parses a response of the expected control
// type, wrapping any failure into a *ProtocolError tagged with operation.
func (s *Session) exchange(operation string, request []byte, expected packet.ControlType, timeout time.Duration) (packet.Response, error) {
	if err := s.t.SendBulk(request, timeout); err != nil {
		return packet.Response{}, &ProtocolError{Operation: operation, Kind: KindTransportFailure, Err: err}
	}
	raw, err := s.t.ReceiveBulk(packet.ResponseFrameSize, timeout)
	if err != nil {
		return packet.Response{}, &ProtocolError{Operation: operation, Kind: KindTransportFailure, Err: err}
	}
	resp, err := packet.UnpackResponse(raw, expected)
	if err != nil {
		var typeErr *packet.UnexpectedResponseTypeError
		if errors.As(err, &typeErr) {
			return packet.Response{}, &ProtocolError{
				Operation: operation,
				Kind:      KindUnexpectedResponseType,
				Expected:  typeErr.Expected.String(),
				Received:  typeErr.Received.String(),
				Err:       err,
			}
		}
		return packet.Response{}, &ProtocolError{Operation: operation, Kind: KindResponseSize, Err: err}
	}
	return resp, nil
}

// BeginSession opens the session and, if the device advertises support,
// negotiates the enlarged transfer parameters.
func (s *Session) BeginSession() error {
	resp, err := s.exchange("begin_session", packet.BeginSession(), packet.ControlTypeSession, controlTimeout)
	if err != nil {
		return err
	}
	s.state = StateSessionOpen
	if resp.Result == 0 {
		return nil
	}
	negotiated, err := s.exchange("negotiate_packet_size", packet.FilePartSize(1048576), packet.ControlTypeSession, controlTimeout)
	if err != nil {
		return err
	}
	if negotiated.Result != 0 {
		return &ProtocolError{
			Operation: "negotiate_packet_size",
			Kind:      KindNonZeroResult,
			Expected:  "0",
			Received:  fmt.Sprintf("%d", negotiated.Result),
		}
	}
	s.params = s.params.Enlarged()
	s.state = StateSessionOpenEnlarged
	return nil
}

// DeviceType queries the bootloader's reported device-type code.
func (s *Session) DeviceType() (uint32, error) {
	resp, err := s.exchange("device_type", packet.DeviceType(), packet.ControlTypeSession, controlTimeout)
	if err != nil {
		return 0, err
	}
	return resp.Result, nil
}

// EnableTFlash redirects subsequent writes to an inserted SD card.
func (s *Session) EnableTFlash() error {
	resp, err := s.exchange("enable_tflash", packet.EnableTFlash(), packet.ControlTypeSession, controlTimeout)
	if err != nil {
		return err
	}
	if resp.Result != 0 {
		return &ProtocolError{Operation: "enable_tflash", Kind: KindNonZeroResult, Expected: "0", Received: fmt.Sprintf("%d", resp.Result)}
	}
	return nil
}

// TotalBytes announces the total byte count the session intends to
// transfer, including the PIT if repartitioning.
func (s *Session) TotalBytes(total uint32) error {
	_, err := s.exchange("total_bytes", packet.TotalBytes(total), packet.ControlTypeSession, controlTimeout)
	return err
}

// UploadPit performs the PIT-flash state machine:
// PitFile(flash) -> FlashPartPit(size) -> raw PIT bytes -> EndPitTransfer(size).
// The PIT is always small enough to fit in a single packet-sized frame.
func (s *Session) UploadPit(data []byte) error {
	if _, err := s.exchange("pit_file_flash", packet.PitFileFlash(), packet.ControlTypePitFile, controlTimeout); err != nil {
		return err
	}
	if _, err := s.exchange("flash_part_pit", packet.FlashPartPit(uint32(len(data))), packet.ControlTypePitFile, controlTimeout); err != nil {
		return err
	}
	padded := make([]byte, s.params.PacketSize)
	copy(padded, data)
	if len(data) > len(padded) {
		padded = data
	}
	if err := s.t.SendBulk(padded, s.params.SequenceTimeout); err != nil {
		return &ProtocolError{Operation: "pit_file_part", Kind: KindTransportFailure, Err: err}
	}
	raw, err := s.t.ReceiveBulk(packet.ResponseFrameSize, s.params.SequenceTimeout)
	if err != nil {
		return &ProtocolError{Operation: "pit_file_part", Kind: KindTransportFailure, Err: err}
	}
	if _, err := packet.UnpackResponse(raw, packet.ControlTypePitFile); err != nil {
		return &ProtocolError{Operation: "pit_file_part", Kind: KindResponseSize, Err: err}
	}
	if _, err := s.exchange("end_pit_transfer", packet.EndPitTransfer(uint32(len(data))), packet.ControlTypePitFile, controlTimeout); err != nil {
		return err
	}
	return nil
}

// EndSession sends the closing handshake, optionally followed by a reboot
// request.
func (s *Session) EndSession(reboot bool) error {
	s.state = StateSessionClosing
	if _, err := s.exchange("end_session", packet.EndSessionEnd(), packet.ControlTypeEndSession, controlTimeout); err != nil {
		return err
	}
	if reboot {
		if _, err := s.exchange("end_session_reboot", packet.EndSessionReboot(), packet.ControlTypeEndSession, controlTimeout); err != nil {
			return err
		}
	}
	s.state = StateDisconnected
	return nil
}

// Exchange runs a generic request/response round trip. Exported for the
// transfer package, which issues file-transfer and pit-file control
// frames this package has no dedicated method for.
func (s *Session) Exchange(operation string, request []byte, expected packet.ControlType, timeout time.Duration) (packet.Response, error) {
	return s.exchange(operation, request, expected, timeout)
}

// SendRaw writes data directly to the bulk-OUT endpoint, bypassing the
// control-frame/response dance. Used by the transfer package for file-part
// chunks.
func (s *Session) SendRaw(data []byte, timeout time.Duration) error {
	return s.t.SendBulk(data, timeout)
}

// SendFramed writes data with zero-length empty-transfer markers around it
// per marker.
func (s *Session) SendFramed(data []byte, marker transport.EmptyTransfer, timeout time.Duration) error {
	return transport.SendFramed(s.t, data, marker, timeout)
}

// ReceiveRaw reads up to capacity bytes from the bulk-IN endpoint.
func (s *Session) ReceiveRaw(capacity int, timeout time.Duration) ([]byte, error) {
	return s.t.ReceiveBulk(capacity, timeout)
}

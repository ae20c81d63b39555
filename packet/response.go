package packet

import (
	"encoding/binary"
	"fmt"
)

// Response is the 8-byte frame a device sends back for every control
// request: a type echo followed by a request-specific result value.
type Response struct {
	Type   ControlType
	Result uint32
}

// UnexpectedResponseTypeError reports a response whose echoed type did not
// match the family the caller issued.
type UnexpectedResponseTypeError struct {
	Expected ControlType
	Received ControlType
}

func (e *UnexpectedResponseTypeError) Error() string {
	return fmt.Sprintf("packet: unexpected response type: expected %s, received %s", e.Expected, e.Received)
}

// ResponseTypeSendFilePart is the type a device echoes back for every
// per-chunk file-part acknowledgement. It is never a request ControlType —
// no control frame's own type field carries it — but UnpackResponse's
// expected-type check has to accept it too, since that is what a real
// chunk ack carries on the wire, distinct from the file-transfer family's
// FlashPartFile-begin and end-of-sequence responses (0x66).
const ResponseTypeSendFilePart ControlType = 0x00

// UnpackResponse parses a received 8-byte frame, failing with
// *UnexpectedResponseTypeError if its echoed type does not equal expected.
func UnpackResponse(data []byte, expected ControlType) (Response, error) {
	if len(data) < ResponseFrameSize {
		return Response{}, fmt.Errorf("packet: short response frame: got %d bytes, want %d", len(data), ResponseFrameSize)
	}
	r := Response{
		Type:   ControlType(binary.LittleEndian.Uint32(data[0:4])),
		Result: binary.LittleEndian.Uint32(data[4:8]),
	}
	if r.Type != expected {
		return r, &UnexpectedResponseTypeError{Expected: expected, Received: r.Type}
	}
	return r, nil
}

// Pack serializes the response back to its 8-byte wire form. Used by test
// doubles that script device responses, and to satisfy the round-trip law
// pack(unpack(x)) == x.
func (r Response) Pack() []byte {
	buf := make([]byte, ResponseFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[4:8], r.Result)
	return buf
}

// PartIndex aliases Result for the SendFilePartResponse variant, where the
// result field carries the acknowledged chunk index rather than a status.
func (r Response) PartIndex() uint32 { return r.Result }

// Package packet builds and parses the fixed-layout frames exchanged with a
// device in download mode: 1024-byte control frames, 8-byte response frames,
// and the raw variable-size file-part frames that carry partition data.
//
// Every outbound builder returns a ready-to-send []byte; there is no
// intermediate packet object to allocate and free around a single exchange.
package packet

import (
	"encoding/binary"
	"fmt"
)

// ControlFrameSize is the fixed wire size of every control-family frame.
const ControlFrameSize = 1024

// ResponseFrameSize is the fixed wire size of a response frame.
const ResponseFrameSize = 8

// ControlType identifies the request family carried by a control frame.
type ControlType uint32

const (
	ControlTypeSession      ControlType = 0x64
	ControlTypePitFile      ControlType = 0x65
	ControlTypeFileTransfer ControlType = 0x66
	ControlTypeEndSession   ControlType = 0x67
)

func (t ControlType) String() string {
	switch t {
	case ControlTypeSession:
		return "session"
	case ControlTypePitFile:
		return "pit-file"
	case ControlTypeFileTransfer:
		return "file-transfer"
	case ControlTypeEndSession:
		return "end-session"
	case ResponseTypeSendFilePart:
		return "send-file-part"
	default:
		return fmt.Sprintf("control-type(0x%x)", uint32(t))
	}
}

// SessionRequest is the session-setup sub-request code at offset 4 of a
// session control frame.
type SessionRequest uint32

const (
	SessionRequestBeginSession  SessionRequest = 0
	SessionRequestDeviceType    SessionRequest = 1
	SessionRequestTotalBytes    SessionRequest = 2
	SessionRequestFilePartSize  SessionRequest = 5
	// SessionRequestEnableTFlash has no documented numeric code in the
	// lineage this protocol was reconstructed from; session-setup already
	// uses 0, 1, 2 and 5, so 8 is assigned here as the next request slot
	// clear of those and of the gap Samsung bootloaders are known to leave
	// around 3/4/6/7 for requests this implementation does not use.
	SessionRequestEnableTFlash SessionRequest = 8
)

// SubRequest is the sub-request code shared by the pit-file and
// file-transfer control families.
type SubRequest uint32

const (
	SubRequestFlash SubRequest = 0
	SubRequestDump  SubRequest = 1
	SubRequestPart  SubRequest = 2
	SubRequestEnd   SubRequest = 3
)

// EndSessionRequest is the sub-request code at offset 4 of an end-session
// control frame.
type EndSessionRequest uint32

const (
	EndSessionRequestEnd    EndSessionRequest = 0
	EndSessionRequestReboot EndSessionRequest = 1
)

// Destination selects which end-of-transfer variant an EndFileTransfer
// frame carries.
type Destination uint32

const (
	DestinationPhone Destination = 0
	DestinationModem Destination = 1
)

func newControlFrame(t ControlType) []byte {
	buf := make([]byte, ControlFrameSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(t))
	return buf
}

func putU32(buf []byte, offset int, v uint32) {
	binary.LittleEndian.PutUint32(buf[offset:offset+4], v)
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// BeginSession builds the frame that starts a Loke session.
func BeginSession() []byte {
	buf := newControlFrame(ControlTypeSession)
	putU32(buf, 4, uint32(SessionRequestBeginSession))
	return buf
}

// DeviceType builds the frame that queries the bootloader's device-type code.
func DeviceType() []byte {
	buf := newControlFrame(ControlTypeSession)
	putU32(buf, 4, uint32(SessionRequestDeviceType))
	return buf
}

// TotalBytes builds the frame announcing the total byte count the session
// intends to transfer.
func TotalBytes(total uint32) []byte {
	buf := newControlFrame(ControlTypeSession)
	putU32(buf, 4, uint32(SessionRequestTotalBytes))
	putU32(buf, 8, total)
	return buf
}

// FilePartSize builds the frame requesting an enlarged chunk size.
func FilePartSize(size uint32) []byte {
	buf := newControlFrame(ControlTypeSession)
	putU32(buf, 4, uint32(SessionRequestFilePartSize))
	putU32(buf, 8, size)
	return buf
}

// EnableTFlash builds the frame that redirects subsequent writes to an
// inserted SD card instead of internal storage.
func EnableTFlash() []byte {
	buf := newControlFrame(ControlTypeSession)
	putU32(buf, 4, uint32(SessionRequestEnableTFlash))
	return buf
}

// PitFileFlash builds the frame announcing an incoming PIT upload.
func PitFileFlash() []byte {
	buf := newControlFrame(ControlTypePitFile)
	putU32(buf, 4, uint32(SubRequestFlash))
	return buf
}

// PitFileDump builds the frame requesting the device's current PIT.
func PitFileDump() []byte {
	buf := newControlFrame(ControlTypePitFile)
	putU32(buf, 4, uint32(SubRequestDump))
	return buf
}

// FlashPartPit builds the frame announcing the byte size of a PIT about to
// be uploaded.
func FlashPartPit(byteCount uint32) []byte {
	buf := newControlFrame(ControlTypePitFile)
	putU32(buf, 4, uint32(SubRequestPart))
	putU32(buf, 8, byteCount)
	return buf
}

// DumpPartPit builds the frame requesting the part-indexed chunk of a PIT
// download.
func DumpPartPit(partIndex uint32) []byte {
	buf := newControlFrame(ControlTypePitFile)
	putU32(buf, 4, uint32(SubRequestPart))
	putU32(buf, 8, partIndex)
	return buf
}

// EndPitTransfer builds the frame closing out a PIT upload or download.
// byteCount carries the uploaded size for a flash, and is 0 for a dump.
func EndPitTransfer(byteCount uint32) []byte {
	buf := newControlFrame(ControlTypePitFile)
	putU32(buf, 4, uint32(SubRequestEnd))
	putU32(buf, 8, byteCount)
	return buf
}

// FlashPartFile builds the frame that opens a sequence of file-part chunks.
func FlashPartFile(sequenceByteCount uint32) []byte {
	buf := newControlFrame(ControlTypeFileTransfer)
	putU32(buf, 4, uint32(SubRequestPart))
	putU32(buf, 8, sequenceByteCount)
	return buf
}

// EndPhoneFileTransfer builds the AP end-of-sequence frame.
func EndPhoneFileTransfer(effectiveByteCount, deviceType, fileIdentifier uint32, endOfFile bool) []byte {
	buf := newControlFrame(ControlTypeFileTransfer)
	putU32(buf, 4, uint32(SubRequestEnd))
	putU32(buf, 8, uint32(DestinationPhone))
	putU32(buf, 12, effectiveByteCount)
	putU32(buf, 16, 0) // reserved, always zero
	putU32(buf, 20, deviceType)
	putU32(buf, 24, fileIdentifier)
	putU32(buf, 28, boolToU32(endOfFile))
	return buf
}

// EndModemFileTransfer builds the CP end-of-sequence frame. The modem has no
// partition identifier of its own, so none is carried on the wire.
func EndModemFileTransfer(effectiveByteCount, deviceType uint32, endOfFile bool) []byte {
	buf := newControlFrame(ControlTypeFileTransfer)
	putU32(buf, 4, uint32(SubRequestEnd))
	putU32(buf, 8, uint32(DestinationModem))
	putU32(buf, 12, effectiveByteCount)
	putU32(buf, 16, 0) // reserved, always zero
	putU32(buf, 20, deviceType)
	putU32(buf, 24, boolToU32(endOfFile))
	return buf
}

// EndSessionEnd builds the frame that closes the current session.
func EndSessionEnd() []byte {
	buf := newControlFrame(ControlTypeEndSession)
	putU32(buf, 4, uint32(EndSessionRequestEnd))
	return buf
}

// EndSessionReboot builds the frame that reboots the device out of download
// mode. Sent in addition to, never instead of, EndSessionEnd.
func EndSessionReboot() []byte {
	buf := newControlFrame(ControlTypeEndSession)
	putU32(buf, 4, uint32(EndSessionRequestReboot))
	return buf
}

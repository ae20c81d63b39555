// Package transfer implements the sequenced, chunked bulk upload protocol
// layered on top of a session — both the partition-image flashing path and
// the structurally similar PIT download path — built entirely from the
// request/response primitives session.Session exposes.
package transfer

import (
	"fmt"
	"io"
	"time"

	"github.com/daedaluz/lokeflash/packet"
	"github.com/daedaluz/lokeflash/pit"
	"github.com/daedaluz/lokeflash/session"
	"github.com/daedaluz/lokeflash/transport"
)

// PartIndexMismatchError reports a per-chunk acknowledgement that named an
// index other than the one just sent. This is always fatal to the current
// upload; it is never retried.
type PartIndexMismatchError struct {
	Expected uint32
	Received uint32
}

func (e *PartIndexMismatchError) Error() string {
	return fmt.Sprintf("transfer: part index mismatch: expected %d, received %d", e.Expected, e.Received)
}

// maxChunkRetries is the number of additional attempts made for a chunk
// whose response-receive step fails, beyond the first.
const maxChunkRetries = 4

// Progress reports upload progress: sent and total are both in bytes, and
// sent is non-decreasing and never exceeds total.
type Progress func(sent, total int64)

// UploadParams carries the per-partition context the end-of-sequence
// packet needs, beyond the byte stream itself.
type UploadParams struct {
	BinaryType pit.BinaryType
	DeviceType uint32
	// Identifier addresses the partition in the wire protocol. Callers
	// flashing a CP (modem) image must pass 0xFFFFFFFF here — a modem has
	// no partition identifier of its own.
	Identifier uint32
	Progress   Progress
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Flash uploads size bytes read from r to the partition described by p,
// using the session's negotiated packet_size/sequence_max_length/
// sequence_timeout.
func Flash(s *session.Session, r io.ReaderAt, size int64, p UploadParams) error {
	params := s.Params()
	packetSize := int64(params.PacketSize)
	seqMaxLen := int64(params.SequenceMaxLength)

	if size == 0 {
		return sendEndOfTransfer(s, p, 0, true)
	}

	sequenceSpan := seqMaxLen * packetSize
	sequenceCount := ceilDiv(size, sequenceSpan)
	var sent int64

	for seq := int64(0); seq < sequenceCount; seq++ {
		remaining := size - seq*sequenceSpan
		seqLen := seqMaxLen
		if remaining < sequenceSpan {
			seqLen = ceilDiv(remaining, packetSize)
		}
		isLastSequence := seq == sequenceCount-1

		if _, err := s.Exchange("flash_part_file", packet.FlashPartFile(uint32(seqLen*packetSize)), packet.ControlTypeFileTransfer, params.SequenceTimeout); err != nil {
			return err
		}

		for i := int64(0); i < seqLen; i++ {
			chunkOffset := seq*sequenceSpan + i*packetSize
			chunk := make([]byte, packetSize)
			if _, err := r.ReadAt(chunk, chunkOffset); err != nil && err != io.EOF {
				return fmt.Errorf("transfer: read chunk at offset %d: %w", chunkOffset, err)
			}

			marker := transport.EmptyTransferNone
			if i > 0 {
				marker = transport.EmptyTransferBefore
			}
			if err := sendChunkWithRetry(s, chunk, uint32(i), marker, params.SequenceTimeout); err != nil {
				return err
			}

			sent += packetSize
			if p.Progress != nil {
				reported := sent
				if reported > size {
					reported = size
				}
				p.Progress(reported, size)
			}
		}

		var effectiveBytes int64
		if isLastSequence {
			if partial := size % packetSize; partial != 0 {
				effectiveBytes = (seqLen-1)*packetSize + partial
			} else {
				effectiveBytes = seqLen * packetSize
			}
		} else {
			effectiveBytes = seqLen * packetSize
		}

		if err := sendEndOfTransfer(s, p, uint32(effectiveBytes), isLastSequence); err != nil {
			return err
		}
	}
	return nil
}

func sendChunkWithRetry(s *session.Session, chunk []byte, index uint32, marker transport.EmptyTransfer, timeout time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= maxChunkRetries; attempt++ {
		m := marker
		if attempt > 0 {
			m = transport.EmptyTransferBefore
		}
		if err := s.SendFramed(chunk, m, timeout); err != nil {
			lastErr = err
			continue
		}
		raw, err := s.ReceiveRaw(packet.ResponseFrameSize, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := packet.UnpackResponse(raw, packet.ResponseTypeSendFilePart)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.PartIndex() != index {
			return &PartIndexMismatchError{Expected: index, Received: resp.PartIndex()}
		}
		return nil
	}
	return fmt.Errorf("transfer: chunk %d failed after %d attempts: %w", index, maxChunkRetries+1, lastErr)
}

func sendEndOfTransfer(s *session.Session, p UploadParams, effectiveBytes uint32, isLast bool) error {
	var frame []byte
	if p.BinaryType == pit.BinaryTypeCP {
		frame = packet.EndModemFileTransfer(effectiveBytes, p.DeviceType, isLast)
	} else {
		frame = packet.EndPhoneFileTransfer(effectiveBytes, p.DeviceType, p.Identifier, isLast)
	}
	timeout := s.Params().SequenceTimeout
	if err := s.SendFramed(frame, transport.EmptyTransferBeforeAndAfter, timeout); err != nil {
		return fmt.Errorf("transfer: send end-of-sequence: %w", err)
	}
	raw, err := s.ReceiveRaw(packet.ResponseFrameSize, timeout)
	if err != nil {
		return fmt.Errorf("transfer: receive end-of-sequence response: %w", err)
	}
	if _, err := packet.UnpackResponse(raw, packet.ControlTypeFileTransfer); err != nil {
		return fmt.Errorf("transfer: end-of-sequence response: %w", err)
	}
	return nil
}

// pitDownloadChunkSize bounds each ReceiveFilePart read during a PIT
// download; the device may return a short final chunk. It is a fixed value,
// not derived from the session's packet_size or from the device's actual
// part size, which original_source/ does not expose in what survived
// filtering; see DESIGN.md.
const pitDownloadChunkSize = 4096

// DownloadPit runs the symmetric PIT-download path: PitFile(dump) to learn
// the byte size, a DumpPartPit/receive loop to fetch it, and PitFile(end)
// to close out.
func DownloadPit(s *session.Session) (*pit.Data, error) {
	timeout := s.Params().SequenceTimeout
	resp, err := s.Exchange("pit_file_dump", packet.PitFileDump(), packet.ControlTypePitFile, timeout)
	if err != nil {
		return nil, err
	}
	total := resp.Result

	buf := make([]byte, 0, total)
	chunkCount := ceilDiv(int64(total), pitDownloadChunkSize)
	for i := int64(0); i < chunkCount; i++ {
		if err := s.SendRaw(packet.DumpPartPit(uint32(i)), timeout); err != nil {
			return nil, fmt.Errorf("transfer: send dump_part_pit %d: %w", i, err)
		}
		chunk, err := s.ReceiveRaw(pitDownloadChunkSize, timeout)
		if err != nil {
			return nil, fmt.Errorf("transfer: receive pit chunk %d: %w", i, err)
		}
		buf = append(buf, chunk...)
	}

	if _, err := s.Exchange("pit_file_end", packet.EndPitTransfer(0), packet.ControlTypePitFile, timeout); err != nil {
		return nil, err
	}

	if uint32(len(buf)) > total {
		buf = buf[:total]
	}
	return pit.Parse(buf)
}

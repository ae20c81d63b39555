package orchestrator

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daedaluz/lokeflash/packet"
	"github.com/daedaluz/lokeflash/pit"
	"github.com/daedaluz/lokeflash/transport"
)

func fakeFactory(f *transport.Fake) func(*log.Logger) (transport.Transport, error) {
	return func(*log.Logger) (transport.Transport, error) { return f, nil }
}

func threeEntryTable() *pit.Data {
	return &pit.Data{Entries: []pit.Entry{
		{PartitionName: "BOOT", Identifier: 1, BinaryType: pit.BinaryTypeAP},
		{PartitionName: "MODEM", Identifier: 2, BinaryType: pit.BinaryTypeCP},
		{PartitionName: "SYSTEM", Identifier: 3, BinaryType: pit.BinaryTypeAP},
	}}
}

func TestDetectHappyPath(t *testing.T) {
	f := transport.NewFake()
	o := WithTransportFactory(fakeFactory(f), nil)
	assert.True(t, o.Detect())
}

func TestDetectNoDevice(t *testing.T) {
	o := WithTransportFactory(func(*log.Logger) (transport.Transport, error) {
		return nil, &transport.DeviceNotFoundError{}
	}, nil)
	assert.False(t, o.Detect())
}

func TestFlashUnknownPartition(t *testing.T) {
	table := threeEntryTable()
	emitted, err := table.Emit()
	require.NoError(t, err)

	f := transport.NewFake(
		[]byte("LOKE\x00\x00\x00"),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // begin_session
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // total_bytes
		packet.Response{Type: packet.ControlTypePitFile, Result: uint32(len(emitted))}.Pack(),
		emitted[:4096],
		packet.Response{Type: packet.ControlTypePitFile, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(), // end_session, still run on failure
	)
	o := WithTransportFactory(fakeFactory(f), nil)

	err = o.Flash([]FlashInput{{Selector: Named("RECOVERY"), Source: bytes.NewReader(nil), Size: 0}}, FlashOptions{})
	require.Error(t, err)
	var unknown *UnknownPartitionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "RECOVERY", unknown.Selector)
}

func TestFlashPitMismatchAborts(t *testing.T) {
	deviceTable := threeEntryTable()
	deviceEmitted, err := deviceTable.Emit()
	require.NoError(t, err)

	localTable := &pit.Data{Entries: []pit.Entry{{PartitionName: "DIFFERENT", Identifier: 9}}}
	localEmitted, err := localTable.Emit()
	require.NoError(t, err)

	f := transport.NewFake(
		[]byte("LOKE\x00\x00\x00"),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // total_bytes
		packet.Response{Type: packet.ControlTypePitFile, Result: uint32(len(deviceEmitted))}.Pack(),
		deviceEmitted[:4096],
		packet.Response{Type: packet.ControlTypePitFile, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(), // end_session, still run on failure
	)
	o := WithTransportFactory(fakeFactory(f), nil)

	err = o.Flash([]FlashInput{{Selector: Named("BOOT"), Source: bytes.NewReader(nil), Size: 0}},
		FlashOptions{PIT: localEmitted})
	require.Error(t, err)
	var mismatch *PitMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestFlashModemPartitionSendsModemEndFrame(t *testing.T) {
	table := threeEntryTable()
	emitted, err := table.Emit()
	require.NoError(t, err)

	f := transport.NewFake(
		[]byte("LOKE\x00\x00\x00"),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // begin_session
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // total_bytes
		packet.Response{Type: packet.ControlTypePitFile, Result: uint32(len(emitted))}.Pack(),
		emitted[:4096],
		packet.Response{Type: packet.ControlTypePitFile, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeFileTransfer, Result: 0}.Pack(), // end-of-sequence for empty modem upload
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(),
	)
	o := WithTransportFactory(fakeFactory(f), nil)

	err = o.Flash([]FlashInput{{Selector: Named("MODEM"), Source: bytes.NewReader(nil), Size: 0}}, FlashOptions{})
	require.NoError(t, err)

	// the only file-transfer frame sent is the end-of-sequence packet for
	// the zero-byte modem upload; its destination field must read modem(1).
	// The modem variant carries no identifier field, so the entry's own id=2
	// never reaches the wire.
	var endFrame []byte
	for _, sent := range f.Sent {
		if len(sent) == packet.ControlFrameSize {
			t := packet.ControlType(decodeU32(sent[0:4]))
			if t == packet.ControlTypeFileTransfer {
				endFrame = sent
			}
		}
	}
	require.NotNil(t, endFrame)
	assert.Equal(t, uint32(1), decodeU32(endFrame[8:12])) // destination = modem
}

func TestFlashModemByIdentifierRejectsNonWildcard(t *testing.T) {
	table := threeEntryTable()
	emitted, err := table.Emit()
	require.NoError(t, err)

	f := transport.NewFake(
		[]byte("LOKE\x00\x00\x00"),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // begin_session
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(), // total_bytes
		packet.Response{Type: packet.ControlTypePitFile, Result: uint32(len(emitted))}.Pack(),
		emitted[:4096],
		packet.Response{Type: packet.ControlTypePitFile, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(), // end_session, still run on failure
	)
	o := WithTransportFactory(fakeFactory(f), nil)

	err = o.Flash([]FlashInput{{Selector: ByIdentifier(2), Source: bytes.NewReader(nil), Size: 0}}, FlashOptions{})
	require.Error(t, err)
	var invalid *InvalidIdentifierError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, uint32(2), invalid.Given)
}

func decodeU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestClosePcScreenReboot(t *testing.T) {
	f := transport.NewFake(
		[]byte("LOKE\x00\x00\x00"),
		packet.Response{Type: packet.ControlTypeSession, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(),
		packet.Response{Type: packet.ControlTypeEndSession, Result: 0}.Pack(),
	)
	o := WithTransportFactory(fakeFactory(f), nil)
	require.NoError(t, o.ClosePcScreen(true, false))
	assert.True(t, f.Closed())
}

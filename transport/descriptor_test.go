package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deviceDescriptor(vid, pid uint16) []byte {
	b := make([]byte, 18)
	b[0] = 18
	b[1] = descTypeDevice
	b[8] = byte(vid)
	b[9] = byte(vid >> 8)
	b[10] = byte(pid)
	b[11] = byte(pid >> 8)
	return b
}

func interfaceDescriptor(number, numEndpoints, class int) []byte {
	return []byte{9, descTypeInterface, byte(number), 0, byte(numEndpoints), byte(class), 0, 0, 0}
}

func endpointDescriptor(address byte, bulk bool) []byte {
	attrs := byte(0x00)
	if bulk {
		attrs = 0x02
	}
	return []byte{7, descTypeEndpoint, address, attrs, 0, 0, 0}
}

func TestDeviceIDs(t *testing.T) {
	vid, pid, err := DeviceIDs(deviceDescriptor(0x04E8, 0x6601))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x04E8), vid)
	assert.Equal(t, uint16(0x6601), pid)
}

func TestFindCDCBulkInterfaceHappyPath(t *testing.T) {
	var raw []byte
	raw = append(raw, deviceDescriptor(0x04E8, 0x6601)...)
	raw = append(raw, interfaceDescriptor(1, 2, cdcDataInterfaceClass)...)
	raw = append(raw, endpointDescriptor(0x81, true)...)
	raw = append(raw, endpointDescriptor(0x02, true)...)

	bi, err := FindCDCBulkInterface(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, bi.Number)
	assert.Equal(t, byte(0x81), bi.InEndpoint)
	assert.Equal(t, byte(0x02), bi.OutEndpoint)
}

func TestFindCDCBulkInterfaceSkipsWrongClass(t *testing.T) {
	var raw []byte
	raw = append(raw, deviceDescriptor(0x04E8, 0x6601)...)
	raw = append(raw, interfaceDescriptor(0, 2, 0x03)...) // HID, not CDC-Data
	raw = append(raw, endpointDescriptor(0x81, true)...)
	raw = append(raw, endpointDescriptor(0x02, true)...)
	raw = append(raw, interfaceDescriptor(1, 2, cdcDataInterfaceClass)...)
	raw = append(raw, endpointDescriptor(0x83, true)...)
	raw = append(raw, endpointDescriptor(0x04, true)...)

	bi, err := FindCDCBulkInterface(raw)
	require.NoError(t, err)
	assert.Equal(t, 1, bi.Number)
	assert.Equal(t, byte(0x83), bi.InEndpoint)
}

func TestFindCDCBulkInterfaceNoMatch(t *testing.T) {
	var raw []byte
	raw = append(raw, deviceDescriptor(0x04E8, 0x6601)...)
	raw = append(raw, interfaceDescriptor(0, 1, cdcDataInterfaceClass)...)
	raw = append(raw, endpointDescriptor(0x81, true)...)

	_, err := FindCDCBulkInterface(raw)
	assert.Error(t, err)
}

// Package pit parses and emits the partition information table binary
// format, and provides name/identifier lookups over the entries it
// describes.
package pit

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic is the little-endian value that opens every PIT header.
const Magic uint32 = 0x12349876

// HeaderSize is the fixed size, in bytes, of a PIT header.
const HeaderSize = 28

// EntrySize is the fixed size, in bytes, of one partition entry.
const EntrySize = 132

const nameFieldSize = 32

// BinaryType distinguishes the application processor from the modem.
type BinaryType uint32

const (
	BinaryTypeAP BinaryType = 0
	BinaryTypeCP BinaryType = 1
)

// DeviceType names the storage medium a partition lives on.
type DeviceType uint32

const (
	DeviceTypeOneNAND DeviceType = 0
	DeviceTypeFile    DeviceType = 1
	DeviceTypeMMC     DeviceType = 2
	DeviceTypeAll     DeviceType = 3
)

// Attribute is a bit in PitEntry.Attributes.
const (
	AttributeWrite = 1 << 0
	AttributeSTL   = 1 << 1
)

// UpdateAttribute is a bit in PitEntry.UpdateAttributes.
const (
	UpdateAttributeFOTA   = 1 << 0
	UpdateAttributeSecure = 1 << 1
)

// PitFormatError reports a PIT buffer that failed to parse.
type PitFormatError struct {
	Reason string
}

func (e *PitFormatError) Error() string {
	return fmt.Sprintf("pit: format error: %s", e.Reason)
}

// Entry describes one flashable (or reserved) partition slot.
type Entry struct {
	BinaryType       BinaryType
	DeviceType       DeviceType
	Identifier       uint32
	Attributes       uint32
	UpdateAttributes uint32
	BlockSizeOrOffset uint32
	BlockCount       uint32
	FileOffset       uint32
	FileSize         uint32
	PartitionName    string
	FlashFilename    string
	FotaFilename     string
}

// Flashable reports whether the generic flashing path may target this
// entry. Entries with an empty name, or named exactly "PIT"/"PT", are
// reserved and never flashed directly.
func (e Entry) Flashable() bool {
	if e.PartitionName == "" {
		return false
	}
	return e.PartitionName != "PIT" && e.PartitionName != "PT"
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (id=%d, binary=%d, device=%d, size=%d blocks @ %d)",
		e.PartitionName, e.Identifier, e.BinaryType, e.DeviceType, e.BlockCount, e.BlockSizeOrOffset)
}

// Data is a complete partition table: a header plus its entries.
type Data struct {
	// Unknown1..Unknown8 are the eight opaque header fields. Their meaning
	// has never been documented; they are preserved bit-exact across parse
	// and emit and never interpreted.
	Unknown1 uint32
	Unknown2 uint32
	Unknown3 uint16
	Unknown4 uint16
	Unknown5 uint16
	Unknown6 uint16
	Unknown7 uint16
	Unknown8 uint16

	Entries []Entry
}

// Size returns the exact unpadded wire size of d: 28 + 132*len(d.Entries).
func (d *Data) Size() int {
	return HeaderSize + EntrySize*len(d.Entries)
}

// Parse decodes a PIT buffer. It fails with *PitFormatError if the magic
// does not match or the buffer is too short for the declared entry count.
func Parse(data []byte) (*Data, error) {
	if len(data) < HeaderSize {
		return nil, &PitFormatError{Reason: fmt.Sprintf("buffer too short for header: %d bytes", len(data))}
	}
	magic := binary.LittleEndian.Uint32(data[0:4])
	if magic != Magic {
		return nil, &PitFormatError{Reason: fmt.Sprintf("bad magic: got 0x%08x, want 0x%08x", magic, Magic)}
	}
	entryCount := binary.LittleEndian.Uint32(data[4:8])
	d := &Data{
		Unknown1: binary.LittleEndian.Uint32(data[8:12]),
		Unknown2: binary.LittleEndian.Uint32(data[12:16]),
		Unknown3: binary.LittleEndian.Uint16(data[16:18]),
		Unknown4: binary.LittleEndian.Uint16(data[18:20]),
		Unknown5: binary.LittleEndian.Uint16(data[20:22]),
		Unknown6: binary.LittleEndian.Uint16(data[22:24]),
		Unknown7: binary.LittleEndian.Uint16(data[24:26]),
		Unknown8: binary.LittleEndian.Uint16(data[26:28]),
	}
	want := HeaderSize + int(entryCount)*EntrySize
	if len(data) < want {
		return nil, &PitFormatError{Reason: fmt.Sprintf("buffer too short for %d entries: got %d bytes, want at least %d", entryCount, len(data), want)}
	}
	d.Entries = make([]Entry, entryCount)
	for i := range d.Entries {
		off := HeaderSize + i*EntrySize
		d.Entries[i] = parseEntry(data[off : off+EntrySize])
	}
	return d, nil
}

func parseEntry(b []byte) Entry {
	return Entry{
		BinaryType:        BinaryType(binary.LittleEndian.Uint32(b[0:4])),
		DeviceType:        DeviceType(binary.LittleEndian.Uint32(b[4:8])),
		Identifier:        binary.LittleEndian.Uint32(b[8:12]),
		Attributes:        binary.LittleEndian.Uint32(b[12:16]),
		UpdateAttributes:  binary.LittleEndian.Uint32(b[16:20]),
		BlockSizeOrOffset: binary.LittleEndian.Uint32(b[20:24]),
		BlockCount:        binary.LittleEndian.Uint32(b[24:28]),
		FileOffset:        binary.LittleEndian.Uint32(b[28:32]),
		FileSize:          binary.LittleEndian.Uint32(b[32:36]),
		PartitionName:     readCString(b[36:68]),
		FlashFilename:     readCString(b[68:100]),
		FotaFilename:      readCString(b[100:132]),
	}
}

func readCString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

func writeCString(b []byte, s string) error {
	if len(s) > nameFieldSize-1 {
		return fmt.Errorf("pit: string %q exceeds %d bytes", s, nameFieldSize-1)
	}
	for i := range b {
		b[i] = 0
	}
	copy(b, s)
	return nil
}

// Emit serializes d to its wire form, zero-padded up to the next multiple
// of 4096 bytes.
func (d *Data) Emit() ([]byte, error) {
	size := d.Size()
	padded := ((size + 4095) / 4096) * 4096
	buf := make([]byte, padded)

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(d.Entries)))
	binary.LittleEndian.PutUint32(buf[8:12], d.Unknown1)
	binary.LittleEndian.PutUint32(buf[12:16], d.Unknown2)
	binary.LittleEndian.PutUint16(buf[16:18], d.Unknown3)
	binary.LittleEndian.PutUint16(buf[18:20], d.Unknown4)
	binary.LittleEndian.PutUint16(buf[20:22], d.Unknown5)
	binary.LittleEndian.PutUint16(buf[22:24], d.Unknown6)
	binary.LittleEndian.PutUint16(buf[24:26], d.Unknown7)
	binary.LittleEndian.PutUint16(buf[26:28], d.Unknown8)

	for i, e := range d.Entries {
		off := HeaderSize + i*EntrySize
		if err := emitEntry(buf[off:off+EntrySize], e); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func emitEntry(b []byte, e Entry) error {
	binary.LittleEndian.PutUint32(b[0:4], uint32(e.BinaryType))
	binary.LittleEndian.PutUint32(b[4:8], uint32(e.DeviceType))
	binary.LittleEndian.PutUint32(b[8:12], e.Identifier)
	binary.LittleEndian.PutUint32(b[12:16], e.Attributes)
	binary.LittleEndian.PutUint32(b[16:20], e.UpdateAttributes)
	binary.LittleEndian.PutUint32(b[20:24], e.BlockSizeOrOffset)
	binary.LittleEndian.PutUint32(b[24:28], e.BlockCount)
	binary.LittleEndian.PutUint32(b[28:32], e.FileOffset)
	binary.LittleEndian.PutUint32(b[32:36], e.FileSize)
	if err := writeCString(b[36:68], e.PartitionName); err != nil {
		return err
	}
	if err := writeCString(b[68:100], e.FlashFilename); err != nil {
		return err
	}
	return writeCString(b[100:132], e.FotaFilename)
}

// FindByName returns the first flashable entry named name.
func (d *Data) FindByName(name string) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Flashable() && e.PartitionName == name {
			return e, true
		}
	}
	return Entry{}, false
}

// FindByID returns the first flashable entry with the given identifier.
func (d *Data) FindByID(id uint32) (Entry, bool) {
	for _, e := range d.Entries {
		if e.Flashable() && e.Identifier == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Equal reports whether d and other are structurally identical, including
// the opaque header fields. Used to guard against a local PIT diverging
// from the device's current layout when the caller has not asked to
// repartition.
func (d *Data) Equal(other *Data) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.Unknown1 != other.Unknown1 || d.Unknown2 != other.Unknown2 ||
		d.Unknown3 != other.Unknown3 || d.Unknown4 != other.Unknown4 ||
		d.Unknown5 != other.Unknown5 || d.Unknown6 != other.Unknown6 ||
		d.Unknown7 != other.Unknown7 || d.Unknown8 != other.Unknown8 {
		return false
	}
	if len(d.Entries) != len(other.Entries) {
		return false
	}
	for i := range d.Entries {
		if d.Entries[i] != other.Entries[i] {
			return false
		}
	}
	return true
}

// String renders a human-readable dump of every entry, for diagnostic use.
func (d *Data) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "PIT: %d entries\n", len(d.Entries))
	for i, e := range d.Entries {
		fmt.Fprintf(&buf, "  [%d] %s\n", i, e)
	}
	return buf.String()
}

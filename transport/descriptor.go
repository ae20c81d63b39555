package transport

import "fmt"

// Descriptor type codes this package cares about. The full USB-IF
// descriptor type table (BOS, SuperSpeed companion, interface association,
// …) has no reader here: download-mode devices are legacy-speed CDC bulk
// interfaces and never need anything past configuration/interface/endpoint.
const (
	descTypeDevice        = 0x01
	descTypeConfiguration = 0x02
	descTypeInterface     = 0x04
	descTypeEndpoint      = 0x05
)

const endpointDirectionIn = 0x80

// DeviceIDs extracts (idVendor, idProduct) from a raw device descriptor, as
// read verbatim from the kernel's sysfs "descriptors" attribute.
func DeviceIDs(raw []byte) (vendor, product uint16, err error) {
	if len(raw) < 12 || raw[1] != descTypeDevice {
		return 0, 0, fmt.Errorf("transport: not a device descriptor")
	}
	vendor = uint16(raw[8]) | uint16(raw[9])<<8
	product = uint16(raw[10]) | uint16(raw[11])<<8
	return vendor, product, nil
}

// BulkInterface is a CDC-Data interface with exactly one bulk-IN and one
// bulk-OUT endpoint.
type BulkInterface struct {
	Number      int
	AltSetting  int
	InEndpoint  byte
	OutEndpoint byte
}

// FindCDCBulkInterface walks a raw configuration-descriptor blob (as
// returned concatenated by sysfs's "descriptors" attribute, starting from
// the device descriptor) looking for the first interface/alt-setting whose
// class is CDC-Data and which exposes exactly one IN and one OUT bulk
// endpoint.
func FindCDCBulkInterface(raw []byte) (BulkInterface, error) {
	var (
		curIface       int
		curAlt         int
		curClass       int
		inEP, outEP    byte
		haveIn, haveOut bool
		numEndpoints   int
		seenEndpoints  int
	)
	flush := func() (BulkInterface, bool) {
		if curClass == cdcDataInterfaceClass && haveIn && haveOut && seenEndpoints == numEndpoints && numEndpoints == 2 {
			return BulkInterface{Number: curIface, AltSetting: curAlt, InEndpoint: inEP, OutEndpoint: outEP}, true
		}
		return BulkInterface{}, false
	}

	for off := 0; off+2 <= len(raw); {
		length := int(raw[off])
		if length < 2 || off+length > len(raw) {
			return BulkInterface{}, fmt.Errorf("transport: malformed descriptor at offset %d", off)
		}
		descType := raw[off+1]
		body := raw[off : off+length]

		switch descType {
		case descTypeInterface:
			if bi, ok := flush(); ok {
				return bi, nil
			}
			if len(body) < 9 {
				return BulkInterface{}, fmt.Errorf("transport: short interface descriptor")
			}
			curIface = int(body[2])
			curAlt = int(body[3])
			numEndpoints = int(body[4])
			curClass = int(body[5])
			haveIn, haveOut = false, false
			seenEndpoints = 0
		case descTypeEndpoint:
			if len(body) < 7 {
				return BulkInterface{}, fmt.Errorf("transport: short endpoint descriptor")
			}
			seenEndpoints++
			address := body[2]
			attributes := body[3]
			transferTypeBulk := attributes&0x03 == 0x02
			if !transferTypeBulk {
				break
			}
			if address&endpointDirectionIn != 0 {
				inEP, haveIn = address, true
			} else {
				outEP, haveOut = address, true
			}
		}
		off += length
	}
	if bi, ok := flush(); ok {
		return bi, nil
	}
	return BulkInterface{}, fmt.Errorf("transport: no CDC-Data bulk interface found")
}

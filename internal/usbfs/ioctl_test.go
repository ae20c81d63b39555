package usbfs

import (
	"testing"
	"unsafe"
)

// _IOC layout constants, mirrored from linux/ioctl.h, used only to verify
// the request codes goioctl computes for us.
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNoneDir  = 0
	iocWriteDir = 1
	iocReadDir  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr uint32, size uintptr) uint32 {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (uint32(size) << iocSizeShift)
}

func TestIoctlRequestCodes(t *testing.T) {
	cases := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"ClaimInterface", uint32(ctlClaimInterface), ioc(iocReadDir, 'U', 15, unsafe.Sizeof(uint32(0)))},
		{"ReleaseInterface", uint32(ctlReleaseInterface), ioc(iocReadDir, 'U', 16, unsafe.Sizeof(uint32(0)))},
		{"SetInterface", uint32(ctlSetInterface), ioc(iocReadDir, 'U', 4, unsafe.Sizeof(setInterface{}))},
		{"GetDriver", uint32(ctlGetDriver), ioc(iocWriteDir, 'U', 8, unsafe.Sizeof(getDriver{}))},
		{"Ioctl", uint32(ctlIoctl), ioc(iocReadDir|iocWriteDir, 'U', 18, unsafe.Sizeof(ioctlArg{}))},
		{"Reset", uint32(ctlReset), ioc(iocNoneDir, 'U', 20, 0)},
		{"Disconnect", uint32(ctlDisconnect), ioc(iocNoneDir, 'U', 22, 0)},
		{"Connect", uint32(ctlConnect), ioc(iocNoneDir, 'U', 23, 0)},
		{"GetCapabilities", uint32(ctlGetCapabilities), ioc(iocReadDir, 'U', 26, unsafe.Sizeof(uint32(0)))},
		{"Bulk", uint32(ctlBulk), ioc(iocReadDir|iocWriteDir, 'U', 2, unsafe.Sizeof(bulkTransfer{}))},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if c.got != c.want {
				t.Errorf("%s: got 0x%08x, want 0x%08x", c.name, c.got, c.want)
			}
		})
	}
}

func TestGetDriverString(t *testing.T) {
	d := &getDriver{}
	copy(d.Driver[:], "cdc_acm\x00garbage")
	if got, want := d.String(), "cdc_acm"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestSlicePtrEmpty(t *testing.T) {
	if slicePtr(nil) != 0 {
		t.Error("slicePtr(nil) should be 0")
	}
}

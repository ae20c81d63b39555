package usbfs

// Request codes and argument structs mirror linux/usbdevice_fs.h. Only the
// subset a single claimed bulk interface needs is kept; the full standard/
// class/vendor control-transfer surface, isochronous URBs, and the stream
// and hub-port-info ioctls have no caller in a bulk-only protocol and were
// dropped.

import (
	ioctl "github.com/daedaluz/goioctl"
	"strings"
	"unsafe"
)

var (
	ctlClaimInterface   = ioctl.IOR('U', 15, unsafe.Sizeof(uint32(0)))
	ctlReleaseInterface = ioctl.IOR('U', 16, unsafe.Sizeof(uint32(0)))
	ctlSetInterface     = ioctl.IOR('U', 4, unsafe.Sizeof(setInterface{}))
	ctlGetDriver        = ioctl.IOW('U', 8, unsafe.Sizeof(getDriver{}))
	ctlIoctl            = ioctl.IOWR('U', 18, unsafe.Sizeof(ioctlArg{}))
	ctlReset            = ioctl.IO('U', 20)
	ctlDisconnect       = ioctl.IO('U', 22)
	ctlConnect          = ioctl.IO('U', 23)
	ctlGetCapabilities  = ioctl.IOR('U', 26, unsafe.Sizeof(uint32(0)))
	ctlBulk             = ioctl.IOWR('U', 2, unsafe.Sizeof(bulkTransfer{}))
)

type (
	bulkTransfer struct {
		Endpoint uint32
		Length   uint32
		Timeout  uint32
		Data     uintptr
	}

	setInterface struct {
		Interface  uint32
		AltSetting uint32
	}

	getDriver struct {
		Interface uint32
		Driver    [maxDriverName + 1]byte
	}

	ioctlArg struct {
		Interface int32
		IoctlCode int32
		Data      uintptr
	}
)

func (d *getDriver) String() string {
	var b strings.Builder
	for _, c := range d.Driver {
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	return b.String()
}

func slicePtr(s []byte) uintptr {
	if len(s) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s[0]))
}

//go:build linux

package usbfs

import (
	"fmt"
	"syscall"
	"unsafe"
)

// GetDriver returns the name of the kernel driver currently bound to iface,
// or an error if none is bound.
func GetDriver(fd int, iface uint32) (string, error) {
	data := &getDriver{Interface: iface}
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlGetDriver), uintptr(unsafe.Pointer(data)))
	if e != 0 {
		return "", e
	}
	return data.String(), nil
}

// SetInterface selects an alternate setting on an already-claimed interface.
func SetInterface(fd int, iface, altSetting uint32) error {
	data := &setInterface{Interface: iface, AltSetting: altSetting}
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlSetInterface), uintptr(unsafe.Pointer(data)))
	if e != 0 {
		return e
	}
	return nil
}

// ClaimInterface claims iface for exclusive use by this file descriptor.
func ClaimInterface(fd, iface int) error {
	ifnum := uint32(iface)
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlClaimInterface), uintptr(unsafe.Pointer(&ifnum)))
	if e != 0 {
		return e
	}
	return nil
}

// ReleaseInterface releases a previously claimed interface.
func ReleaseInterface(fd, iface int) error {
	ifnum := uint32(iface)
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlReleaseInterface), uintptr(unsafe.Pointer(&ifnum)))
	if e != 0 {
		return e
	}
	return nil
}

// DetachKernelDriver disconnects whatever kernel driver is bound to iface so
// this process can claim it.
func DetachKernelDriver(fd int, iface uint32) error {
	return dispatchIoctl(fd, iface, ctlDisconnect)
}

// AttachKernelDriver reconnects the kernel driver that was detached from
// iface, undoing DetachKernelDriver.
func AttachKernelDriver(fd int, iface uint32) error {
	return dispatchIoctl(fd, iface, ctlConnect)
}

func dispatchIoctl(fd int, iface uint32, code uint32) error {
	arg := ioctlArg{
		Interface: int32(iface),
		IoctlCode: int32(code),
	}
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlIoctl), uintptr(unsafe.Pointer(&arg)))
	if e != 0 {
		return e
	}
	return nil
}

// BulkTransfer performs one bulk transfer on endpoint, reading into or
// writing from payload depending on the endpoint's direction bit. It
// returns the number of bytes actually transferred.
func BulkTransfer(fd int, endpoint uint32, timeoutMillis uint32, payload []byte) (int, error) {
	data := &bulkTransfer{
		Endpoint: endpoint,
		Timeout:  timeoutMillis,
	}
	if len(payload) > 0 {
		data.Length = uint32(len(payload))
		data.Data = slicePtr(payload)
	}
	n, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlBulk), uintptr(unsafe.Pointer(data)))
	if e != 0 {
		return int(n), e
	}
	return int(n), nil
}

// GetCapabilities returns the capability bits the kernel usbfs driver
// reports for this device.
func GetCapabilities(fd int) (Capability, error) {
	var caps uint32
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlGetCapabilities), uintptr(unsafe.Pointer(&caps)))
	if e != 0 {
		return 0, e
	}
	return Capability(caps), nil
}

// ResetDevice issues a USB port reset.
func ResetDevice(fd int) error {
	_, _, e := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), uintptr(ctlReset), 0)
	if e != 0 {
		return e
	}
	return nil
}

// OpenDevice opens the usbfs device node for the given bus/device address.
func OpenDevice(busNumber, deviceNumber int) (int, error) {
	path := fmt.Sprintf("%s/%.3d/%.3d", devPath, busNumber, deviceNumber)
	fd, err := syscall.Open(path, syscall.O_RDWR, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

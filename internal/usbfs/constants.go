// Package usbfs wraps the Linux usbfs ioctl surface needed to claim a bulk
// interface, detach/reattach its kernel driver, and move bytes over its
// endpoints, without linking against a cgo USB library.
package usbfs

const devPath = "/dev/bus/usb"

const maxDriverName = 255

// Capability is a bit reported by USBDEVFS_GET_CAPABILITIES.
type Capability uint32

const (
	CapZeroPacket          Capability = 0x01
	CapBulkContinuation    Capability = 0x02
	CapNoPacketSizeLim     Capability = 0x04
	CapBulkScatterGather   Capability = 0x08
	CapReapAfterDisconnect Capability = 0x10
	CapNMAP                Capability = 0x20
	CapDropPrivileges      Capability = 0x40
	CapConnInfoEx          Capability = 0x80
	CapSuspend             Capability = 0x100
)

// Has reports whether cap is set in c.
func (c Capability) Has(cap Capability) bool {
	return c&cap != 0
}

//go:build linux

package transport

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/daedaluz/lokeflash/internal/usbfs"
)

const sysfsDeviceDir = "/sys/bus/usb/devices"

type candidate struct {
	busNumber, deviceNumber int
	iface                   BulkInterface
}

func readSysfsInt(devName, attr string) (int, error) {
	data, err := os.ReadFile(filepath.Join(sysfsDeviceDir, devName, attr))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func findCandidate(logger *log.Logger) (*candidate, error) {
	entries, err := os.ReadDir(sysfsDeviceDir)
	if err != nil {
		return nil, &TransportError{Kind: KindIO, Context: "enumerate usb devices", Err: err}
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue // root hubs and interface sub-nodes, not devices
		}
		raw, err := os.ReadFile(filepath.Join(sysfsDeviceDir, name, "descriptors"))
		if err != nil {
			logger.Printf("lokeflash: skipping %s: %v", name, err)
			continue
		}
		vid, pid, err := DeviceIDs(raw)
		if err != nil || vid != VendorID || !isKnownProduct(pid) {
			continue
		}
		bi, err := FindCDCBulkInterface(raw)
		if err != nil {
			logger.Printf("lokeflash: %s matched vid/pid but has no CDC bulk interface: %v", name, err)
			continue
		}
		busNum, err := readSysfsInt(name, "busnum")
		if err != nil {
			continue
		}
		devNum, err := readSysfsInt(name, "devnum")
		if err != nil {
			continue
		}
		return &candidate{busNumber: busNum, deviceNumber: devNum, iface: bi}, nil
	}
	return nil, &DeviceNotFoundError{}
}

// Linux is the usbfs-backed Transport implementation: it claims a CDC-Data
// bulk interface directly through ioctls, without linking a cgo USB
// library.
type Linux struct {
	mu       sync.Mutex
	fd       int
	iface    uint32
	inEP     byte
	outEP    byte
	detached bool
	logger   *log.Logger
}

// Open enumerates devices, claims the first CDC-Data bulk interface it
// finds on a known Samsung download-mode device, and returns a ready
// Transport. A nil logger discards diagnostic output.
func Open(logger *log.Logger) (Transport, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cand, err := findCandidate(logger)
	if err != nil {
		return nil, err
	}
	fd, err := usbfs.OpenDevice(cand.busNumber, cand.deviceNumber)
	if err != nil {
		return nil, &TransportError{Kind: KindAccess, Context: "open usbfs device node", Err: err}
	}
	t := &Linux{
		fd:     fd,
		iface:  uint32(cand.iface.Number),
		inEP:   cand.iface.InEndpoint,
		outEP:  cand.iface.OutEndpoint,
		logger: logger,
	}
	if err := t.claim(); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return t, nil
}

func (t *Linux) claim() error {
	if driver, err := usbfs.GetDriver(t.fd, t.iface); err == nil && driver != "" {
		t.logger.Printf("lokeflash: detaching kernel driver %q from interface %d", driver, t.iface)
		if err := usbfs.DetachKernelDriver(t.fd, t.iface); err != nil {
			return &TransportError{Kind: KindAccess, Context: "detach kernel driver", Err: err}
		}
		t.detached = true
	}
	if err := usbfs.ClaimInterface(t.fd, int(t.iface)); err != nil {
		return &TransportError{Kind: KindAccess, Context: "claim interface", Err: err}
	}
	return nil
}

// Capabilities returns the kernel usbfs driver's reported capability bits
// for the open device. It only reports the bits: SendFramed and the
// transfer engine do not consult it and always send the zero-length
// markers they are asked for.
func (t *Linux) Capabilities() (usbfs.Capability, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	caps, err := usbfs.GetCapabilities(t.fd)
	if err != nil {
		return 0, &TransportError{Kind: KindIO, Context: "get capabilities", Err: err}
	}
	return caps, nil
}

// SendBulk implements Transport.
func (t *Linux) SendBulk(data []byte, timeout time.Duration) error {
	if len(data) == 0 {
		return t.transferOnce(t.outEP, timeout, nil)
	}
	return WithRetry(timeout, func(int) error {
		return t.transferOnce(t.outEP, timeout, data)
	})
}

// ReceiveBulk implements Transport.
func (t *Linux) ReceiveBulk(capacity int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, capacity)
	var n int
	err := WithRetry(timeout, func(int) error {
		var rerr error
		n, rerr = t.bulkReceiveOnce(buf, timeout)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *Linux) transferOnce(endpoint byte, timeout time.Duration, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := usbfs.BulkTransfer(t.fd, uint32(endpoint), uint32(timeout.Milliseconds()), data)
	if err != nil {
		return classifyTransportError("bulk transfer", err)
	}
	return nil
}

func (t *Linux) bulkReceiveOnce(buf []byte, timeout time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := usbfs.BulkTransfer(t.fd, uint32(t.inEP), uint32(timeout.Milliseconds()), buf)
	if err != nil {
		return 0, classifyTransportError("bulk receive", err)
	}
	return n, nil
}

func classifyTransportError(context string, err error) error {
	kind := KindIO
	if errno, ok := err.(syscall.Errno); ok {
		switch errno {
		case syscall.ETIMEDOUT:
			kind = KindTimeout
		case syscall.EACCES, syscall.EPERM:
			kind = KindAccess
		case syscall.ENODEV, syscall.EPIPE:
			kind = KindReset
		}
	}
	return &TransportError{Kind: kind, Context: context, Err: err}
}

// Close releases the claimed interface, reattaches any kernel driver this
// Transport detached, and closes the device file descriptor.
func (t *Linux) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	if err := usbfs.ReleaseInterface(t.fd, int(t.iface)); err != nil {
		firstErr = fmt.Errorf("release interface: %w", err)
	}
	if t.detached {
		if err := usbfs.AttachKernelDriver(t.fd, t.iface); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("reattach kernel driver: %w", err)
		}
	}
	if err := syscall.Close(t.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

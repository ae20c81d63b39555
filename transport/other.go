//go:build !linux

package transport

import "log"

// Open is unavailable outside Linux: claiming a usbfs interface without a
// kernel driver to detach/reattach needs a platform-specific backend this
// module does not provide. Callers on other platforms must supply their
// own Transport implementation.
func Open(logger *log.Logger) (Transport, error) {
	return nil, &TransportError{Kind: KindAccess, Context: "no usbfs backend on this platform"}
}

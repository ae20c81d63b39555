// Package orchestrator exposes the top-level "flash these files to these
// partitions" entry points. It is the only package in this module that
// knows about all of session, transfer, pit, and transport at once; every
// lower package stays ignorant of the others it doesn't directly need.
package orchestrator

import (
	"fmt"
	"io"
	"log"

	"github.com/daedaluz/lokeflash/pit"
	"github.com/daedaluz/lokeflash/session"
	"github.com/daedaluz/lokeflash/transfer"
	"github.com/daedaluz/lokeflash/transport"
)

// wildcardIdentifier is the identifier a CP (modem) upload must carry; a
// modem has no partition identifier of its own.
const wildcardIdentifier = 0xFFFFFFFF

// Selector names a partition either by its human-readable name or its
// numeric identifier.
type Selector struct {
	name string
	id   uint32
	byID bool
}

// Named selects a partition by partition_name.
func Named(name string) Selector { return Selector{name: name} }

// ByIdentifier selects a partition by its numeric identifier.
func ByIdentifier(id uint32) Selector { return Selector{id: id, byID: true} }

func (s Selector) String() string {
	if s.byID {
		return fmt.Sprintf("id(%d)", s.id)
	}
	return s.name
}

func (s Selector) resolve(table *pit.Data) (pit.Entry, bool) {
	if s.byID {
		return table.FindByID(s.id)
	}
	return table.FindByName(s.name)
}

// UnknownPartitionError reports a selector with no matching flashable entry.
type UnknownPartitionError struct {
	Selector string
}

func (e *UnknownPartitionError) Error() string {
	return fmt.Sprintf("orchestrator: unknown partition: %s", e.Selector)
}

// PitMismatchError reports that a caller-supplied PIT does not structurally
// match the device's current PIT, and repartitioning was not requested.
type PitMismatchError struct{}

func (e *PitMismatchError) Error() string {
	return "orchestrator: local pit does not match device pit and repartition was not requested"
}

// InvalidIdentifierError reports a CP (modem) input given an identifier
// other than the required wildcard.
type InvalidIdentifierError struct {
	Selector string
	Given    uint32
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("orchestrator: %s: modem partitions require identifier 0xFFFFFFFF, got 0x%X", e.Selector, e.Given)
}

// FlashInput pairs a partition selector with the byte stream to upload.
type FlashInput struct {
	Selector Selector
	Source   io.ReaderAt
	Size     int64
}

// FlashOptions carries the flags spec.md's orchestrator names, plus the
// progress callback threaded down to the file-transfer engine.
type FlashOptions struct {
	Repartition bool
	Reboot      bool
	Resume      bool
	TFlash      bool
	// PIT is the caller-supplied partition table. Required when
	// Repartition is set (it is what gets uploaded); optional otherwise,
	// in which case it is only used as a guard against a stale device
	// layout.
	PIT      []byte
	Progress transfer.Progress
}

// openFunc creates a claimed, ready-to-use transport. Orchestrator.openTransport
// defaults to transport.Open but tests substitute a fake-backed factory.
type openFunc func(logger *log.Logger) (transport.Transport, error)

// Orchestrator drives the session and file-transfer engines to implement
// the detect/download/print/flash/close/reboot entry points spec.md names.
type Orchestrator struct {
	open   openFunc
	logger *log.Logger
}

// New creates an Orchestrator that opens real USB transports. A nil logger
// discards diagnostic output.
func New(logger *log.Logger) *Orchestrator {
	return &Orchestrator{open: transport.Open, logger: normalizeLogger(logger)}
}

// WithTransportFactory creates an Orchestrator over a caller-supplied
// transport factory, bypassing device enumeration entirely. Exposed for
// tests driven against transport.Fake.
func WithTransportFactory(open func(logger *log.Logger) (transport.Transport, error), logger *log.Logger) *Orchestrator {
	return &Orchestrator{open: open, logger: normalizeLogger(logger)}
}

func normalizeLogger(logger *log.Logger) *log.Logger {
	if logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return logger
}

// Detect reports whether a download-mode device is currently reachable. It
// opens and immediately releases a transport; any error is treated as "not
// found" rather than propagated, matching the boolean entry point spec.md
// names.
func (o *Orchestrator) Detect() bool {
	t, err := o.open(o.logger)
	if err != nil {
		return false
	}
	_ = t.Close()
	return true
}

// openSession opens a transport and drives it to Session-open-enlarged (or
// Session-open, if the device declines negotiation), honoring resume.
func (o *Orchestrator) openSession(resume bool) (transport.Transport, *session.Session, error) {
	t, err := o.open(o.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: open transport: %w", err)
	}
	s := session.New(t, o.logger)
	if err := s.Init(resume); err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	if err := s.BeginSession(); err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	return t, s, nil
}

// closeSession ends the session and releases the transport. Failures here
// are logged but never override flashErr, per spec.md §7: "errors from
// end_session during a failing flash are recorded but do not override the
// original error."
func (o *Orchestrator) closeSession(t transport.Transport, s *session.Session, reboot bool, flashErr error) error {
	if endErr := s.EndSession(reboot); endErr != nil {
		o.logger.Printf("orchestrator: end_session failed: %v", endErr)
		if flashErr == nil {
			flashErr = endErr
		}
	}
	if closeErr := t.Close(); closeErr != nil {
		o.logger.Printf("orchestrator: transport close failed: %v", closeErr)
		if flashErr == nil {
			flashErr = closeErr
		}
	}
	return flashErr
}

// DownloadPit fetches the device's current PIT and returns its serialized
// bytes.
func (o *Orchestrator) DownloadPit(reboot, resume bool) ([]byte, error) {
	t, s, err := o.openSession(resume)
	if err != nil {
		return nil, err
	}
	table, flashErr := transfer.DownloadPit(s)
	var data []byte
	if flashErr == nil {
		data, flashErr = table.Emit()
	}
	if err := o.closeSession(t, s, reboot, flashErr); err != nil {
		return nil, err
	}
	return data, nil
}

// PitSource names where PrintPit should read a PIT from: the device itself,
// or caller-supplied bytes already on hand (e.g. read from a file).
type PitSource struct {
	FromDevice bool
	Bytes      []byte
}

// PrintPit returns the parsed PIT from source, either by downloading it
// from the device or parsing caller-supplied bytes. Diagnostic rendering
// is left to pit.Data.String(); this entry point only resolves the data.
func (o *Orchestrator) PrintPit(source PitSource) (*pit.Data, error) {
	if !source.FromDevice {
		return pit.Parse(source.Bytes)
	}
	t, s, err := o.openSession(true)
	if err != nil {
		return nil, err
	}
	table, flashErr := transfer.DownloadPit(s)
	if err := o.closeSession(t, s, false, flashErr); err != nil {
		return nil, err
	}
	return table, nil
}

// Flash uploads each input to its resolved partition, in declaration order,
// optionally repartitioning first. See spec.md §4.6 for the full algorithm.
func (o *Orchestrator) Flash(inputs []FlashInput, opts FlashOptions) error {
	t, s, err := o.openSession(opts.Resume)
	if err != nil {
		return err
	}

	flashErr := o.runFlash(s, inputs, opts)
	return o.closeSession(t, s, opts.Reboot, flashErr)
}

func (o *Orchestrator) runFlash(s *session.Session, inputs []FlashInput, opts FlashOptions) error {
	if opts.TFlash {
		if err := s.EnableTFlash(); err != nil {
			return err
		}
	}

	total := int64(0)
	for _, in := range inputs {
		total += in.Size
	}
	if opts.Repartition {
		total += int64(len(opts.PIT))
	}
	if err := s.TotalBytes(uint32(total)); err != nil {
		return err
	}

	table, err := o.resolveWorkingPit(s, opts)
	if err != nil {
		return err
	}

	if opts.Repartition {
		if err := s.UploadPit(opts.PIT); err != nil {
			return err
		}
	}

	for _, in := range inputs {
		entry, ok := in.Selector.resolve(table)
		if !ok {
			return &UnknownPartitionError{Selector: in.Selector.String()}
		}
		params := transfer.UploadParams{
			BinaryType: entry.BinaryType,
			DeviceType: uint32(entry.DeviceType),
			Identifier: entry.Identifier,
			Progress:   opts.Progress,
		}
		if entry.BinaryType == pit.BinaryTypeCP {
			if in.Selector.byID && in.Selector.id != wildcardIdentifier {
				return &InvalidIdentifierError{Selector: in.Selector.String(), Given: in.Selector.id}
			}
			params.Identifier = wildcardIdentifier
		}
		if err := transfer.Flash(s, in.Source, in.Size, params); err != nil {
			return fmt.Errorf("orchestrator: flash %s: %w", in.Selector, err)
		}
	}
	return nil
}

// resolveWorkingPit obtains the PitData used to resolve selectors: the
// caller-supplied table when repartitioning, otherwise the device's
// current table, guarded against a stale local copy.
func (o *Orchestrator) resolveWorkingPit(s *session.Session, opts FlashOptions) (*pit.Data, error) {
	if opts.Repartition {
		return pit.Parse(opts.PIT)
	}
	devicePit, err := transfer.DownloadPit(s)
	if err != nil {
		return nil, err
	}
	if opts.PIT != nil {
		localPit, err := pit.Parse(opts.PIT)
		if err != nil {
			return nil, err
		}
		if !localPit.Equal(devicePit) {
			return nil, &PitMismatchError{}
		}
	}
	return devicePit, nil
}

// ClosePcScreen ends the current session without flashing anything,
// optionally rebooting the device out of download mode.
func (o *Orchestrator) ClosePcScreen(reboot, resume bool) error {
	t, s, err := o.openSession(resume)
	if err != nil {
		return err
	}
	return o.closeSession(t, s, reboot, nil)
}

// Reboot is ClosePcScreen(reboot=true) against an already-open session,
// the common case of recovering a device stuck mid-session.
func (o *Orchestrator) Reboot() error {
	return o.ClosePcScreen(true, true)
}

// Package usb implements the Bulk Stream Pump: it owns the gousb device
// handle, drives the vendor control sequence that arms the capture
// hardware, and keeps a fixed number of bulk reads in flight on the
// data endpoint, handing each completed chunk to a decoder.
package usb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// VendorID and ProductID identify the capture device once its firmware
// has enumerated (as opposed to the bare FX2LP bootloader device, which
// this package does not load firmware onto).
const (
	VendorID  = 0x6666
	ProductID = 0x6620

	dataEndpoint     = 0x82
	dataEndpointSize = 512
	transferSize     = dataEndpointSize * 2000
	transferCount    = 4

	ctrlRequest    = 0xd0
	ctrlRegShift   = 4
	controlTimeout = 250 * time.Millisecond
	flushTimeout   = 20 * time.Millisecond
	flushRounds    = 100
)

// ctrlReg indexes the four vendor control registers exposed over EP0,
// matching original_source/software/capture.h's CaptureCtrl_* enum.
type ctrlReg int

const (
	ctrlReset ctrlReg = iota
	ctrlEnable
	ctrlSpeed0
	ctrlSpeed1
)

// Device wraps the open gousb handle for the capture hardware's single
// bulk IN endpoint and EP0 vendor control interface.
type Device struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
}

// Open opens the capture device by VID/PID, claims its single interface,
// and resolves the bulk IN endpoint, mirroring the claim sequence used
// throughout the teacher's gousb device wrapper.
func Open() (*Device, error) {
	ctx := gousb.NewContext()

	dev, err := ctx.OpenDeviceWithVIDPID(VendorID, ProductID)
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("open usb device: %w", err)
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("usb device not found (VID:0x%04x PID:0x%04x)", VendorID, ProductID)
	}

	config, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("set usb config: %w", err)
	}

	intf, err := config.Interface(0, 0)
	if err != nil {
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim usb interface: %w", err)
	}

	epIn, err := intf.InEndpoint(dataEndpoint)
	if err != nil {
		intf.Close()
		config.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("open data endpoint: %w", err)
	}

	// Vendor control transfers fail hard on error; a 250 ms cap keeps a
	// wedged control endpoint from hanging the arm/disarm sequence.
	dev.ControlTimeout = controlTimeout

	return &Device{ctx: ctx, dev: dev, config: config, intf: intf, epIn: epIn}, nil
}

// Close releases the interface, configuration, device handle and libusb
// context, in that order.
func (d *Device) Close() error {
	d.intf.Close()
	d.config.Close()
	err := d.dev.Close()
	d.ctx.Close()
	return err
}

// ctrl issues one vendor control write to register reg, encoding the
// boolean value in bit 4 of wValue the way the firmware expects.
func (d *Device) ctrl(reg ctrlReg, value bool) error {
	v := int(reg)
	if value {
		v |= 1 << ctrlRegShift
	}
	// bmRequestType: host-to-device (bit 7 clear), vendor request, device
	// recipient - the direction bit contributes nothing since OUT is 0.
	rType := uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := d.dev.Control(rType, ctrlRequest, uint16(v), 0, nil)
	if err != nil {
		return fmt.Errorf("usb ctrl(reg=%d, value=%v): %w", reg, value, err)
	}
	return nil
}

// flush drains any data left in the hardware's capture FIFO by reading
// the bulk endpoint with a short timeout until a read times out,
// matching usb_flush_data in the original firmware host software.
func (d *Device) flush() error {
	buf := make([]byte, dataEndpointSize)
	for i := 0; i < flushRounds; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		_, err := d.epIn.ReadContext(ctx, buf)
		cancel()
		if err == context.DeadlineExceeded {
			return nil
		}
		if err != nil {
			return fmt.Errorf("usb flush: %w", err)
		}
	}
	return nil
}

// ArmCapture runs the vendor control sequence that resets the capture
// state machine, selects the bus speed, drains any stale FIFO contents,
// and re-enables capture: Reset=1, Enable=0, flush, Speed0/Speed1,
// Reset=0, Enable=1. speedBits is the two-bit CaptureSpeed_* encoding
// (0=low, 1=full, 2=high).
func (d *Device) ArmCapture(speedBits int) error {
	steps := []struct {
		reg   ctrlReg
		value bool
	}{
		{ctrlReset, true},
		{ctrlEnable, false},
	}
	for _, s := range steps {
		if err := d.ctrl(s.reg, s.value); err != nil {
			return err
		}
	}

	if err := d.flush(); err != nil {
		return err
	}

	if err := d.ctrl(ctrlSpeed0, speedBits&1 != 0); err != nil {
		return err
	}
	if err := d.ctrl(ctrlSpeed1, speedBits&2 != 0); err != nil {
		return err
	}

	if err := d.ctrl(ctrlReset, false); err != nil {
		return err
	}
	return d.ctrl(ctrlEnable, true)
}

// DisarmCapture stops the hardware from generating further frames on
// shutdown. The original firmware host software has no equivalent
// teardown step (the process simply exits with the device left
// enabled); disabling and resetting here leaves the device in the same
// idle state ArmCapture expects to find it in on the next run.
func (d *Device) DisarmCapture() error {
	if err := d.ctrl(ctrlEnable, false); err != nil {
		return err
	}
	return d.ctrl(ctrlReset, true)
}

// Sink receives each chunk read from the bulk endpoint, in submission
// order, and reports whether it has reached a terminal state (a desync,
// a reached --limit, or a failed sink write) so Pump can stop requesting
// further transfers.
// Implemented by *capture.Decoder via a thin adapter in cmd/usbsniffer.
type Sink interface {
	Feed(data []byte)
	Done() bool
}

// Pump opens a gousb read stream over the data endpoint, keeping
// transferCount reads of transferSize bytes in flight, and feeds each
// completed read to sink in submission order. gousb resubmits each
// transfer internally as soon as it completes, so the stream's blocking
// Read calls already realize the "fixed pool of outstanding bulk
// transfers, resubmitted on completion" model the original firmware host
// software implements by hand over libusb's async API.
func (d *Device) Pump(ctx context.Context, sink Sink) error {
	stream, err := d.epIn.NewStream(transferSize, transferCount)
	if err != nil {
		return fmt.Errorf("open bulk read stream: %w", err)
	}
	defer stream.Close()

	type result struct {
		buf []byte
		err error
	}
	// Buffered so the reader goroutine never blocks delivering its final
	// result after Pump has already returned on context cancellation.
	results := make(chan result, 1)

	go func() {
		for {
			buf := make([]byte, transferSize)
			n, err := stream.Read(buf)
			select {
			case results <- result{buf: buf[:n], err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-results:
			if r.err != nil {
				return fmt.Errorf("usb bulk read: %w", r.err)
			}
			if len(r.buf) > 0 {
				sink.Feed(r.buf)
			}
			if sink.Done() {
				return nil
			}
		}
	}
}

// Package config resolves the capture session's parameters from CLI
// flags, following the teacher's env-override-after-defaults pattern but
// sourced from flag.FlagSet instead of a .env file, since this tool has
// no notion of a project root to search.
package config

import (
	"flag"
	"fmt"
	"os"

	"usbsniffer/internal/capture"
)

// CaptureConfig holds everything needed to run one capture session:
// the decoder Config plus the I/O surface (whether a capture was
// actually requested and where it is written).
type CaptureConfig struct {
	capture.Config

	Capture bool
	Fifo    string
	LogFile string
}

// Parse parses args (normally os.Args[1:]) into a CaptureConfig,
// applying the same defaults spec.md §6 assigns: speed=fs,
// trigger=disabled, limit=unlimited.
func Parse(args []string) (CaptureConfig, error) {
	fs := flag.NewFlagSet("usbsniffer", flag.ContinueOnError)

	speed := fs.String("speed", "fs", "capture speed: ls, fs, or hs")
	fold := fs.Bool("fold", false, "fold repetitive SOF/IN/NAK/keep-alive traffic")
	trigger := fs.String("trigger", "disabled", "trigger mode: disabled, low, high, falling, rising")
	limit := fs.Int("limit", 0, "stop after N captured packets and keep-alives, folded or not (0 = unlimited)")
	doCapture := fs.Bool("capture", false, "start a capture")
	fifo := fs.String("fifo", "", "write the capture to this file or named pipe")
	fs.String("extcap-interface", "", "extcap interface name passed with --capture")

	if err := fs.Parse(args); err != nil {
		return CaptureConfig{}, err
	}

	cfg := CaptureConfig{
		LogFile: os.Getenv("USB_SNIFFER_LOG"),
		Capture: *doCapture,
		Fifo:    *fifo,
	}

	sp, err := parseSpeed(*speed)
	if err != nil {
		return CaptureConfig{}, err
	}
	cfg.Speed = sp

	tr, err := parseTrigger(*trigger)
	if err != nil {
		return CaptureConfig{}, err
	}
	cfg.Trigger = tr

	cfg.Fold = *fold
	cfg.Limit = *limit

	if cfg.Capture && cfg.Fifo == "" {
		return CaptureConfig{}, fmt.Errorf("--capture requires --fifo PATH")
	}

	return cfg, nil
}

func parseSpeed(s string) (capture.Speed, error) {
	switch s {
	case "ls":
		return capture.SpeedLow, nil
	case "fs":
		return capture.SpeedFull, nil
	case "hs":
		return capture.SpeedHigh, nil
	default:
		return 0, fmt.Errorf("invalid --speed %q: want ls, fs, or hs", s)
	}
}

func parseTrigger(s string) (capture.TriggerMode, error) {
	switch s {
	case "disabled":
		return capture.TriggerDisabled, nil
	case "low":
		return capture.TriggerLow, nil
	case "high":
		return capture.TriggerHigh, nil
	case "falling":
		return capture.TriggerFalling, nil
	case "rising":
		return capture.TriggerRising, nil
	default:
		return 0, fmt.Errorf("invalid --trigger %q: want disabled, low, high, falling, or rising", s)
	}
}

// SpeedBits returns the two-bit CaptureSpeed_* encoding the vendor
// control sequence writes to the Speed0/Speed1 registers.
func SpeedBits(s capture.Speed) int {
	switch s {
	case capture.SpeedLow:
		return 0
	case capture.SpeedFull:
		return 1
	case capture.SpeedHigh:
		return 2
	default:
		return 1
	}
}

// USBLinkType maps the configured speed to the pcapng USB link-type
// value the IDB(usb) block declares, matching spec §8 scenario 1.
func USBLinkType(s capture.Speed) int {
	switch s {
	case capture.SpeedLow:
		return 293
	case capture.SpeedHigh:
		return 295
	default:
		return 294
	}
}

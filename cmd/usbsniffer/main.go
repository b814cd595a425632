// Command usbsniffer decodes the proprietary byte stream produced by a
// USB 2.0 bus sniffer peripheral into a live pcapng capture, consumable
// by a packet analyzer through the extcap external-capture contract.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"usbsniffer/internal/capture"
	"usbsniffer/internal/config"
	"usbsniffer/internal/pcapng"
	"usbsniffer/internal/sink"
	"usbsniffer/internal/usb"
)

const (
	interfaceName     = "usb_sniffer"
	extcapLinkTypeUSB = 288
)

func main() {
	if handled, err := runExtcapRequest(os.Args[1:]); handled {
		if err != nil {
			log.Fatal(err)
		}
		return
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("open log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if !cfg.Capture {
		log.Print("nothing to do: pass --capture --fifo PATH to start a capture")
		return
	}

	if err := run(cfg); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

// runExtcapRequest answers the handful of extcap discovery flags the
// analyzer GUI issues before ever requesting a capture; these never
// touch the capture pipeline itself (spec §1, Out of scope).
func runExtcapRequest(args []string) (handled bool, err error) {
	fs := flag.NewFlagSet("extcap", flag.ContinueOnError)
	fs.SetOutput(new(nullWriter))

	version := fs.String("extcap-version", "", "")
	interfaces := fs.Bool("extcap-interfaces", false, "")
	iface := fs.String("extcap-interface", "", "")
	dlts := fs.Bool("extcap-dlts", false, "")
	extcapConfig := fs.Bool("extcap-config", false, "")

	if err := fs.Parse(args); err != nil {
		return false, nil
	}

	if *version != "" {
		if *version != "4.0" {
			log.Print("unsupported extcap version")
		} else {
			fmt.Println("extcap {version=1.0}{help=https://github.com/ataradov/usb-sniffer}{display=USB Sniffer}")
		}
	}

	if *interfaces {
		fmt.Printf("interface {value=%s}{display=USB Sniffer}\n", interfaceName)
		return true, nil
	}

	if *iface != "" && *iface != interfaceName {
		return true, fmt.Errorf("invalid interface, expected %s", interfaceName)
	}

	if *dlts {
		fmt.Printf("dlt {number=%d}{name=USB}{display=USB}\n", extcapLinkTypeUSB)
		return true, nil
	}

	if *extcapConfig {
		fmt.Println("arg {number=0}{call=--speed}{display=Capture Speed}{tooltip=USB capture speed}{type=selector}")
		fmt.Println("value {arg=0}{value=ls}{display=Low-Speed}{default=false}")
		fmt.Println("value {arg=0}{value=fs}{display=Full-Speed}{default=true}")
		fmt.Println("value {arg=0}{value=hs}{display=High-Speed}{default=false}")
		fmt.Println("arg {number=1}{call=--fold}{display=Fold empty frames}{tooltip=Fold frames that have no data or errors}{type=boolflag}")
		fmt.Println("arg {number=2}{call=--trigger}{display=Capture Trigger}{tooltip=Condition used to start the capture}{type=selector}")
		fmt.Println("value {arg=2}{value=disabled}{display=Disabled}{default=true}")
		fmt.Println("value {arg=2}{value=low}{display=Low}{default=false}")
		fmt.Println("value {arg=2}{value=high}{display=High}{default=false}")
		fmt.Println("value {arg=2}{value=falling}{display=Falling}{default=false}")
		fmt.Println("value {arg=2}{value=rising}{display=Rising}{default=false}")
		fmt.Println("arg {number=3}{call=--limit}{display=Capture Limit}{tooltip=Limit the number of captured packets (0 for unlimited)}{type=integer}{range=0,10000000}{default=0}")
		return true, nil
	}

	return false, nil
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

// run opens the device, arms the capture, and pumps frames through the
// decoder into the configured pcapng sink until a fatal error, a
// desync, a capture limit, or a shutdown signal stops it.
func run(cfg config.CaptureConfig) error {
	log.Printf("Opening file '%s'", cfg.Fifo)
	sk, err := sink.Open(cfg.Fifo)
	if err != nil {
		return err
	}
	defer sk.Close()

	writer, err := pcapng.New(sk, config.USBLinkType(cfg.Speed))
	if err != nil {
		return fmt.Errorf("write pcapng headers: %w", err)
	}

	dev, err := usb.Open()
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := dev.ArmCapture(config.SpeedBits(cfg.Speed)); err != nil {
		return err
	}
	defer dev.DisarmCapture()

	decoder := capture.NewDecoder(cfg.Config, writer)
	decoder.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Print("Shutting down capture...")
		cancel()
	}()

	feeder := &decoderFeeder{decoder: decoder, writer: writer}
	err = dev.Pump(ctx, feeder)
	writer.Flush()

	if writer.Err() != nil {
		return writer.Err()
	}
	if decoder.Done && !decoder.LimitHit {
		return fmt.Errorf("capture stopped: protocol desynchronization")
	}
	if err == context.Canceled {
		return nil
	}
	return err
}

// decoderFeeder adapts *capture.Decoder to usb.Sink and stops the pump
// once the decoder has reached a terminal state (desync or --limit) or
// the pcapng writer has latched a sink write error.
type decoderFeeder struct {
	decoder *capture.Decoder
	writer  *pcapng.Writer
}

func (f *decoderFeeder) Feed(data []byte) {
	f.decoder.Feed(data)
}

func (f *decoderFeeder) Done() bool {
	return f.decoder.Done || f.writer.Err() != nil
}

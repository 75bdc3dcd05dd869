// mqtttransport is a commandline tool for publishing and listening to thing band values on an MQTT broker
//
// Usage: mqtttransport [flags] listen|send|watch|serve|certs
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wostzone/mqtttransport-go/internal/sessionlock"
	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
)

// Modes of operation
const (
	ModeListen = "listen"
	ModeSend   = "send"
	ModeWatch  = "watch"
	ModeServe  = "serve"
	ModeCerts  = "certs"
)

// appFlags are the commandline flags of the modes
type appFlags struct {
	id         string
	band       string
	value      string
	interval   time.Duration
	file       string
	listen     string
	serverCert string
	serverKey  string
	certFolder string
	lockFolder string
}

func setAppFlags(af *appFlags) {
	flag.StringVar(&af.id, "id", "", "Thing ID. Optional filter for listen")
	flag.StringVar(&af.band, "band", "", "Band name. Optional filter for listen")
	flag.StringVar(&af.value, "value", "{}", "JSON object to send")
	flag.DurationVar(&af.interval, "interval", 0, "Repeat send at this interval, 0 to send once")
	flag.StringVar(&af.file, "file", "", "JSON `file` to publish on each change in watch mode")
	flag.StringVar(&af.listen, "listen", "127.0.0.1:8080", "HTTP bridge listening address in serve mode")
	flag.StringVar(&af.serverCert, "serverCert", "", "HTTP bridge server certificate `file`, enables TLS")
	flag.StringVar(&af.serverKey, "serverKey", "", "HTTP bridge server key `file`")
	flag.StringVar(&af.certFolder, "certs", "./certs", "Output `folder` of the certs mode")
	flag.StringVar(&af.lockFolder, "lockDir", os.TempDir(), "Session lock `folder`")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses the commandline and runs the selected mode until it completes or ctx ends
func run(ctx context.Context, args []string) error {
	af := &appFlags{}
	setAppFlags(af)
	cwd, _ := os.Getwd()
	substituteMap := map[string]string{"cwd": cwd}
	config, err := transportconfig.LoadCommandlineConfig(args, substituteMap)
	if err != nil {
		return err
	}
	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected one mode: %s, %s, %s, %s or %s",
			ModeListen, ModeSend, ModeWatch, ModeServe, ModeCerts)
	}
	mode := flag.Arg(0)
	if mode == ModeCerts {
		return runCerts(config, af)
	}

	if config.ClientID != "" {
		lock, err := sessionlock.Acquire(af.lockFolder, config.ClientID, 0)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	switch mode {
	case ModeListen:
		return runListen(ctx, config, af)
	case ModeSend:
		return runSend(ctx, config, af)
	case ModeWatch:
		return runWatch(ctx, config, af)
	case ModeServe:
		return runServe(ctx, config, af)
	}
	return errors.New("unknown mode: " + mode)
}

// rhost - standalone protocol host for remote evaluator clients
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/int19h/R-Host/blobstore"
	"github.com/int19h/R-Host/config"
	"github.com/int19h/R-Host/host"
	"github.com/int19h/R-Host/transport"

	_ "github.com/tliron/commonlog/simple"
)

var (
	configDir     = flag.String("config-dir", ".", "directory containing rhost.toml")
	transportKind = flag.String("transport", "", "override transport kind: pipe or websocket")
	url           = flag.String("url", "", "WebSocket endpoint to connect to (websocket transport)")
	verbosity     = flag.Int("v", -1, "log verbosity (overrides config when >= 0)")
	traceFile     = flag.String("trace", "", "record all protocol traffic to this file")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: rhost [options]\n\n")
		fmt.Fprintf(os.Stderr, "Serves the host protocol over stdio or a WebSocket, driving the built-in\n")
		fmt.Fprintf(os.Stderr, "echo evaluator. Configuration is read from rhost.toml when present.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *transportKind != "" {
		cfg.Transport.Kind = *transportKind
	}
	if *url != "" {
		cfg.Transport.URL = *url
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *traceFile != "" {
		cfg.Log.Trace = *traceFile
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var logPath *string
	if cfg.Log.File != "" {
		logPath = &cfg.Log.File
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	tr, err := openTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var opts []host.SessionOption
	if cfg.Blobs.Backend == "sqlite" {
		store, err := blobstore.NewSQLStore(cfg.Blobs.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		opts = append(opts, host.WithBlobStore(store))
	}
	if cfg.Log.Trace != "" {
		f, err := os.Create(cfg.Log.Trace)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot create trace file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		opts = append(opts, host.WithTrace(f))
	}

	ev := &echoEvaluator{}
	sess := host.New(tr, ev, opts...)
	ev.sess = sess

	if err := sess.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openTransport(cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "websocket":
		heartbeat := time.Duration(cfg.Transport.HeartbeatSecs) * time.Second
		return transport.Dial(cfg.Transport.URL, heartbeat)
	default:
		return transport.NewPipe(os.Stdin, os.Stdout), nil
	}
}

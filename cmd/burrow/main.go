// Command burrow is an interactive shell for BurrowDB. It either opens a
// data directory directly or talks to a running server over nng.
//
//	burrow -data ./data
//	burrow -nng tcp://127.0.0.1:7071
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/burrowdb/pkg/config"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/protocol"
	"github.com/dd0wney/burrowdb/pkg/server"
	"github.com/dd0wney/burrowdb/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (local mode)")
	dataDir := flag.String("data", "", "Data directory to open (local mode)")
	nngURL := flag.String("nng", "", "Connect to a running server at this nng URL instead of opening a data directory")
	timeout := flag.Duration("timeout", 10*time.Second, "Per-command timeout")
	flag.Parse()

	var (
		exec   Executor
		target string
		closer func() error
	)

	if *nngURL != "" {
		client, err := transport.Dial(*nngURL, *timeout)
		if err != nil {
			fail(err)
		}
		exec = client.Do
		target = *nngURL
		closer = client.Close
	} else {
		loop, dir, err := openLocal(*configPath, *dataDir)
		if err != nil {
			fail(err)
		}
		exec = func(line string) (string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), *timeout)
			defer cancel()
			return protocol.Handle(ctx, loop, line), nil
		}
		target = dir
		closer = loop.Close
	}

	sh := NewShell(exec, os.Stdout)
	sh.Banner(target)
	sh.Run(bufio.NewScanner(os.Stdin))

	if err := closer(); err != nil {
		fail(err)
	}
}

func openLocal(configPath, dataDir string) (*engine.Loop, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	// Engine logs go to stderr and stay quiet below warn unless asked for.
	level := logging.ParseLevel(cfg.LogLevel)
	if level == logging.InfoLevel {
		level = logging.WarnLevel
	}
	logger := logging.NewJSONLogger(os.Stderr, level)

	cold, err := server.OpenColdStore(context.Background(), cfg, logger)
	if err != nil {
		return nil, "", err
	}
	e, err := engine.Open(cfg.EngineConfig(),
		engine.WithLogger(logger),
		engine.WithColdStore(cold),
	)
	if err != nil {
		cold.Close()
		return nil, "", err
	}

	lopts := cfg.LoopOptions()
	lopts.Logger = logger
	loop := engine.NewLoop(e, lopts)
	loop.Start()
	return loop, cfg.DataDir, nil
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: "+err.Error()))
	os.Exit(1)
}

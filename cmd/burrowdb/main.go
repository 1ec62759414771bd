// Command burrowdb runs the BurrowDB server.
//
//	burrowdb [-config burrow.yaml] [-data ./data]
//	burrowdb -print-config
//	burrowdb token -subject ingest -role writer
//	burrowdb cert -cert server.crt -key server.key -hosts db.internal,10.0.0.5
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/config"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/server"
	burrowtls "github.com/dd0wney/burrowdb/pkg/tls"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			os.Exit(runToken(os.Args[2:]))
		case "cert":
			os.Exit(runCert(os.Args[2:]))
		}
	}
	os.Exit(runServer(os.Args[1:]))
}

func runServer(args []string) int {
	fs := flag.NewFlagSet("burrowdb", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	dataDir := fs.String("data", "", "Data directory (overrides config and "+config.EnvDataDir+")")
	printConfig := fs.Bool("print-config", false, "Print the effective config as YAML and exit")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, *dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	if *printConfig {
		out, err := cfg.Marshal()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		os.Stdout.Write(out)
		return 0
	}

	logger := logging.New(cfg.LogLevel)
	logging.SetDefaultLogger(logger)

	logger.Info("BurrowDB starting",
		logging.Path(cfg.DataDir),
		logging.String("cold_backend", cfg.Cold.Backend),
		logging.Int("hot_documents", cfg.Tier.HotDocuments),
		logging.Int64("hot_bytes", cfg.Tier.HotBytes),
		logging.Bool("auth", cfg.Auth.Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.New(ctx, cfg, server.AppOptions{ConfigPath: *configPath, Logger: logger})
	if err != nil {
		logger.Error("failed to start", logging.Error(err))
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("server exited with error", logging.Error(err))
		return 1
	}
	logger.Info("server exited")
	return 0
}

func loadConfig(path, dataDir string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func runToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file holding auth.jwt_secret")
	subject := fs.String("subject", "", "Token subject (client name)")
	role := fs.String("role", string(auth.RoleReader), "Role: reader, writer or admin")
	ttl := fs.Duration("ttl", 0, "Token lifetime (default from config)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if !cfg.Auth.Enabled() {
		fmt.Fprintf(os.Stderr, "auth is disabled: set auth.jwt_secret or %s\n", config.EnvJWTSecret)
		return 2
	}

	r, err := auth.ParseRole(*role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v: %q\n", err, *role)
		return 2
	}

	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	jm, err := auth.NewJWTManager(cfg.Auth.JWTSecret, lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	token, err := jm.GenerateToken(*subject, r)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(jm.TokenDuration()).Format(time.RFC3339))
	return 0
}

func runCert(args []string) int {
	fs := flag.NewFlagSet("cert", flag.ExitOnError)
	certFile := fs.String("cert", "server.crt", "Certificate output path")
	keyFile := fs.String("key", "server.key", "Private key output path")
	hosts := fs.String("hosts", "localhost,127.0.0.1", "Comma-separated DNS names and IPs")
	validFor := fs.Duration("valid-for", burrowtls.DefaultValidFor, "Certificate lifetime")
	_ = fs.Parse(args)

	var names []string
	for _, h := range strings.Split(*hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			names = append(names, h)
		}
	}

	if err := burrowtls.WriteSelfSigned(*certFile, *keyFile, names, *validFor); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Fprintf(os.Stderr, "wrote %s and %s\n", *certFile, *keyFile)
	return 0
}

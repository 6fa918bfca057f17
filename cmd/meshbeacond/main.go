package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"meshbeacon/pkg/meshbeacon"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "scan":
		err = scanCommand(os.Args[2:])
	case "relay":
		err = relayCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("meshbeacond %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to node configuration file")
	token := fs.String("token", "", "16-hex-digit node token, overrides the config value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := loadRuntime(*cfgPath, *token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

func scanCommand(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to node configuration file")
	token := fs.String("token", "", "16-hex-digit node token, overrides the config value")
	window := fs.Duration("window", 0, "Scan window override (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := meshbeacon.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *token != "" {
		cfg.Node.Token = *token
	}
	if *window > 0 {
		cfg.Duty.ScanWindow = *window
	}

	rt, err := meshbeacon.NewRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.ScanOnce(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return rt.Shutdown(shutdownCtx)
}

func relayCommand(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to node configuration file")
	token := fs.String("token", "", "16-hex-digit node token, overrides the config value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rt, err := loadRuntime(*cfgPath, *token)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relayErr := rt.RelayOnce(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
	return relayErr
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := meshbeacon.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good\n", *cfgPath)
	return nil
}

func loadRuntime(cfgPath, token string) (*meshbeacon.Runtime, error) {
	cfg, err := meshbeacon.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if token != "" {
		cfg.Node.Token = token
	}
	return meshbeacon.NewRuntime(cfg)
}

func printUsage() {
	fmt.Printf(`meshbeacon duty-cycle node

Usage:
  meshbeacond <command> [flags]

Commands:
  run        Restore the mesh snapshot and run the scan/relay duty cycle
  scan       Run a single bounded scan phase and write the hand-off file
  relay      Run a single bounded relay phase from the current hand-off file
  validate   Load and validate a config file without starting the node

Examples:
  meshbeacond run -config ./data/config.yaml
  meshbeacond run -config ./data/config.yaml -token 76bd4f2372477600
  meshbeacond scan -window 5s
  meshbeacond validate -config ./data/config.yaml
`)
}

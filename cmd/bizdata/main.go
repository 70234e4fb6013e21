// Command bizdata reads and writes ERP business data through the resilient
// data layer.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/bizdata/internal/config"
	"github.com/syntrixbase/bizdata/internal/logging"
	"github.com/syntrixbase/bizdata/internal/services"
)

// Version can be overridden at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bizdata", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", config.DefaultDir, "configuration directory")
	storeType := fs.String("store", "", "store backend override: memory, mongo or remote")
	fs.Usage = func() { printUsage(stderr, fs) }
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr, fs)
		return 2
	}
	name, cmdArgs := rest[0], rest[1:]
	switch name {
	case "help":
		printUsage(stdout, fs)
		return 0
	case "version":
		fmt.Fprintf(stdout, "bizdata version %s\n", Version)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		printUsage(stderr, fs)
		return 2
	}
	if len(cmdArgs) < cmd.minArgs {
		fmt.Fprintf(stderr, "Usage: bizdata %s %s\n", name, cmd.usage)
		return 2
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *storeType != "" {
		cfg.Store.Type = *storeType
		if err := cfg.Store.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logging.Shutdown()

	mgr := services.NewManager(cfg, services.Options{Notifier: &printNotifier{w: stderr}})
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = mgr.Init(initCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to initialize: %v\n", err)
		return 1
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	mgr.Start(bgCtx)

	err = cmd.run(ctx, mgr, cmdArgs, stdout)

	bgCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := mgr.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: bizdata [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

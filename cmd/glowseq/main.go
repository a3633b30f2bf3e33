package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"libdb.so/glowseq"
	"libdb.so/glowseq/internal/leddriver"
)

var (
	config  = "glowseq.toml"
	verbose = false
	dryRun  = false
	play    []string
	stdin   = false
)

func init() {
	pflag.StringVarP(&config, "config", "c", config, "configuration file")
	pflag.BoolVarP(&verbose, "verbose", "v", verbose, "verbose output")
	pflag.BoolVar(&dryRun, "dry-run", dryRun, "log frames instead of driving the controller")
	pflag.StringSliceVarP(&play, "play", "p", nil, "sequences to play on startup")
	pflag.BoolVar(&stdin, "stdin", stdin, "read play/dismiss commands from stdin")
}

func main() {
	pflag.Parse()

	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts, err := daemonOptions(cfg)
	if err != nil {
		return err
	}

	d, err := glowseq.NewDaemon(cfg, slog.Default(), opts...)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	for _, name := range play {
		if err := d.Play(name); err != nil {
			return fmt.Errorf("failed to play %q: %w", name, err)
		}
	}

	if stdin {
		go readCommands(os.Stdin, os.Stdout, d)
	}

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("daemon failed: %w", err)
	}

	return nil
}

func daemonOptions(cfg *glowseq.Config) ([]glowseq.Option, error) {
	var opts []glowseq.Option

	if dryRun {
		opts = append(opts, glowseq.WithDriver(
			leddriver.NewRecorder(cfg.Channels, 1, slog.Default()),
		))
	}

	if cfg.PowerPin == "" && cfg.ButtonPin == "" {
		return opts, nil
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO: %w", err)
	}

	if cfg.PowerPin != "" {
		pin := gpioreg.ByName(cfg.PowerPin)
		if pin == nil {
			return nil, fmt.Errorf("unknown power pin %q", cfg.PowerPin)
		}
		opts = append(opts, glowseq.WithPowerPin(pin))
	}

	if cfg.ButtonPin != "" {
		pin := gpioreg.ByName(cfg.ButtonPin)
		if pin == nil {
			return nil, fmt.Errorf("unknown button pin %q", cfg.ButtonPin)
		}
		opts = append(opts, glowseq.WithButtonPin(pin))
	}

	return opts, nil
}

// readCommands reads one command per line until r is exhausted.
func readCommands(r io.Reader, w io.Writer, d *glowseq.Daemon) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := runCommand(w, d, scanner.Text()); err != nil {
			fmt.Fprintln(w, "error:", err)
		}
	}
}

func runCommand(w io.Writer, d *glowseq.Daemon, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "play":
		if len(fields) != 2 {
			return errors.New("usage: play <sequence>")
		}
		return d.Play(fields[1])

	case "dismiss":
		d.Dismiss()
		return nil

	case "list":
		for _, name := range d.Sequences() {
			fmt.Fprintln(w, name)
		}
		return nil

	case "status":
		if id, ok := d.Active(); ok {
			fmt.Fprintf(w, "playing group %d, frame %v\n", id, d.Frame())
		} else {
			fmt.Fprintf(w, "idle, frame %v\n", d.Frame())
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func readConfig() (*glowseq.Config, error) {
	f, err := os.Open(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return glowseq.ParseConfig(f)
}

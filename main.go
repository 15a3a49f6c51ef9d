// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ffutop/mcdrive/internal/config"
	"github.com/ffutop/mcdrive/internal/emulator"
	"github.com/ffutop/mcdrive/internal/program"
	"github.com/ffutop/mcdrive/internal/scheduler"
	"github.com/spf13/pflag"
	"go.bug.st/serial"
)

const usage = `Usage: mcdrive <command> [flags]

Commands:
  run       run the configured drive programs
  emulate   serve simulated drives on TCP or a serial device
  ports     list serial ports
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(args)
	case "emulate":
		err = emulateCommand(args)
	case "ports":
		err = portsCommand()
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Printf("Unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Exiting", "err", err)
		os.Exit(1)
	}
}

func loadConfig(name string, args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	configFile := fs.StringP("config", "c", "", "Path to config file")
	config.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(*configFile, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runCommand(args []string) error {
	cfg, err := loadConfig("run", args)
	if err != nil {
		return err
	}
	if len(cfg.Drives) == 0 {
		return errors.New("no drives configured")
	}

	slog.Info("Starting drive control...", "link", cfg.Link.Type, "drives", len(cfg.Drives))

	runner, err := program.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			slog.Warn("Failed to close link", "err", err)
		}
	}()

	ctx, stop := signalContext()
	defer stop()
	if err := runner.Start(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := scheduler.New(clock.New(), cfg.Loop.Period)
	sched.Every(0, func(now time.Time) {
		runner.Tick(now)
		if runner.Finished() {
			cancel()
		}
	})
	sched.Every(time.Second, func(time.Time) {
		for _, a := range runner.Axes() {
			c := a.Controller()
			slog.Debug("Drive status", "axis", a.Name, "step", a.Current(), "state", c.DriveState(),
				"sw", fmt.Sprintf("0x%04X", c.StatusWord()), "position", c.ActualPosition())
		}
	})

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if !runner.Finished() {
		slog.Info("Shutting down...")
		return nil
	}
	if err := runner.Err(); err != nil {
		return err
	}
	slog.Info("All programs finished.")
	return nil
}

func emulateCommand(args []string) error {
	cfg, err := loadConfig("emulate", args)
	if err != nil {
		return err
	}

	bus, err := emulator.NewBusFromConfig(cfg.Emulator)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			slog.Warn("Failed to persist emulator state", "err", err)
		}
	}()

	ctx, stop := signalContext()
	defer stop()
	go bus.Run(ctx, clock.New(), cfg.Emulator.Tick)

	if cfg.Emulator.Serial.Device != "" {
		slog.Info("Starting emulator...", "device", cfg.Emulator.Serial.Device, "nodes", bus.NodeIDs())
		err = bus.ServeSerial(ctx, cfg.Emulator.Serial)
	} else {
		err = bus.ServeTCP(ctx, cfg.Emulator.Tcp.Address)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Goodbye.")
	return nil
}

func portsCommand() error {
	ports, err := serial.GetPortsList()
	if err != nil {
		return fmt.Errorf("failed to list serial ports: %w", err)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

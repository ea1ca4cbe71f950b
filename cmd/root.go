// Package cmd implements the taskmasterd command-line entry point: a
// single root command (no subcommands — the interactive client is a
// separate, unimplemented collaborator per the specification) built with
// cobra, matching the teacher repository's CLI layering.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"firestige.xyz/taskmasterd/internal/client"
	"firestige.xyz/taskmasterd/internal/config"
	"firestige.xyz/taskmasterd/internal/control"
	"firestige.xyz/taskmasterd/internal/daemon"
	"firestige.xyz/taskmasterd/internal/log"
	"firestige.xyz/taskmasterd/internal/logring"
	"firestige.xyz/taskmasterd/internal/oplog"
	"firestige.xyz/taskmasterd/internal/supervisor"
)

var noDaemonize bool

var rootCmd = &cobra.Command{
	Use:          "taskmasterd <config-path>",
	Short:        "taskmasterd supervises a set of programs declared in a configuration file",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
}

func init() {
	rootCmd.Flags().BoolVar(&noDaemonize, "no-daemonize", false, "run in the foreground instead of detaching")
}

// Execute runs the root command. It is called by main.main once. Both
// argument errors and startup failures exit 2, per the specification's
// external-interfaces exit code table; --help exits 0 (cobra's default
// behavior, left untouched) and a clean Shutdown intent exits 0.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return exitCode
}

// exitCode is set by the shutdown path so Execute can report 0 after a
// clean Shutdown intent, distinguishing it from the always-2 failure path.
var exitCode int

func run(configPath string) error {
	daemonCfg, err := config.LoadDaemonConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading daemon configuration: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", configPath, err)
	}
	taskConfigs, err := config.ParseSpecFile(data)
	if err != nil {
		return err
	}

	if !noDaemonize {
		if err := daemon.Daemonize(); err != nil {
			return fmt.Errorf("daemonizing: %w", err)
		}
		if err := daemon.WritePIDFile(daemonCfg.PIDFile); err != nil {
			return fmt.Errorf("writing pid file: %w", err)
		}
		defer daemon.RemovePIDFile(daemonCfg.PIDFile)
		if err := daemon.DropPrivileges(); err != nil {
			return fmt.Errorf("dropping privileges: %w", err)
		}
		unix.Umask(0o022)
	}

	opsLogger := oplog.Init(daemonCfg.LogFile + ".ops.log")
	log.SetLevel("info")

	ring, err := logring.Open(daemonCfg.LogFile)
	if err != nil {
		return fmt.Errorf("opening log ring file: %w", err)
	}
	defer ring.Close()

	if daemonCfg.HTTPLoggingPort != 0 {
		ring.EnableHTTP(daemonCfg.HTTPLoggingPort)
	}

	ring.Log(logring.TagGlobal, fmt.Sprintf("taskmasterd starting, config=%s socket=%s", configPath, daemonCfg.SocketPath))
	opsLogger.Info("taskmasterd starting", "config", configPath, "socket", daemonCfg.SocketPath)

	sup := supervisor.New(ring, configPath, daemonCfg.SocketPath, daemonCfg.PIDFile, daemonCfg.LogFile, taskConfigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := &control.Router{
		SocketPath: daemonCfg.SocketPath,
		Supervisor: sup,
		Ring:       ring,
	}
	router.Shutdown = func() {
		opsLogger.Info("shutdown intent processed, exiting")
		exitCode = 0
		cancel()
	}

	if err := router.Listen(); err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}

	go sup.Reconcile(ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- router.Serve(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				opsLogger.Info("received SIGHUP, posting self-addressed update intent")
				if err := client.TriggerUpdate(daemonCfg.SocketPath); err != nil {
					opsLogger.Error("sighup trampoline failed", "error", err)
				}
			case syscall.SIGTERM, syscall.SIGINT:
				opsLogger.Info("received shutdown signal", "signal", sig.String())
				sup.Shutdown()
				exitCode = 0
				cancel()
				<-serveErr
				return nil
			}
		case err := <-serveErr:
			if err != nil {
				slog.Error("control router stopped", "error", err)
				return err
			}
			return nil
		}
	}
}

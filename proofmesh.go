package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/proofmesh/proofmesh/logging"
	"github.com/proofmesh/proofmesh/server"
)

// Proofmesh binary version.
// It should be passed during the build with '-ldflags "-X main.version="'.
var version = "unknown"

// proofmeshMain is the true entry point. Defers created in main are not
// executed if os.Exit() is called.
func proofmeshMain() error {
	var err error
	cfg := server.DefaultConfig()
	// Pre-parse the command line to check for an alternative config file.
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}
	cfg, err = server.ReadConfigFile(cfg)
	if err != nil {
		return err
	}
	cfg, err = server.SetupConfig(cfg)
	if err != nil {
		return err
	}
	// Parse the command line again so it takes precedence over the config file.
	cfg, err = server.ParseFlags(cfg)
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.NewWithRotation(logLevel, filepath.Join(cfg.LogDir, "proofmesh.log"), cfg.JSONLog, logging.Rotation{
		MaxBackups: cfg.MaxLogFiles,
		MaxSizeMB:  cfg.MaxLogFileSize,
	})
	ctx := logging.NewContext(context.Background(), logger)

	defer func() {
		logger.Info("shutdown complete")
	}()

	logger.Info("starting proofmesh", zap.String("version", version), zap.Object("config", cfg))

	if cfg.Profile != "" {
		logger.Sugar().Infof("starting HTTP profiling on port %v", cfg.Profile)
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			profileRedirect := http.RedirectHandler("/debug/pprof", http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			fmt.Println(http.ListenAndServe(listenAddr, nil))
		}()
	} else {
		// Disable go default unbounded memory profiler.
		runtime.MemProfileRate = 0
	}

	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	node, err := server.New(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("failure in server: %w", err)
	}
	return nil
}

func main() {
	if err := proofmeshMain(); err != nil {
		// go-flags already printed help output.
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

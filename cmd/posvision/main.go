package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"posvision/internal/app"
	"posvision/internal/config"
	"posvision/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "posvision: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1:], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "posvision: %v\n", err)
		os.Exit(2)
	}

	logger, flush, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "posvision: %v\n", err)
		os.Exit(1)
	}
	defer flush()

	console, err := app.New(cfg, logger)
	if err != nil {
		logger.Errorf("failed to build console: %v", err)
		return
	}
	logger.Infof("detection service at %s, stream interval %s", console.Client.BaseURL(), cfg.StreamInterval)

	// Signal handler and server goroutines report here to stop the process.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Run(ctx)
	}()
	handleHTTPServer(ctx, cfg.HTTPAddr, console.Handler(), &wg, errc, logger)

	logger.Infof("exiting (%v)", <-errc)

	cancel()
	wg.Wait()

	if err := console.Close(); err != nil {
		logger.Warnf("failed to release camera: %v", err)
	}
	logger.Info("exited")
}

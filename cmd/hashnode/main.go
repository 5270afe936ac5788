package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

func main() {
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	app, err := newApp(*envPath)
	if err != nil {
		log.Fatalf("Failed to initialize node: %v", err)
	}
	defer app.Close()

	absPath, err := filepath.Abs(app.cfg.DataDir)
	if err != nil {
		log.Fatalf("Error resolving the absolute path of the data directory: %v", err)
	}
	log.Printf("Node %s using data directory %s", app.cfg.NodeID, absPath)
	log.Printf("Root hash: %s", app.node.RootHash())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.node.Start(ctx)

	srv := &http.Server{
		Addr:              app.cfg.NodeAddress,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("Starting server on %s", app.cfg.NodeAddress)
		var err error
		if app.cfg.CertPath != "" && app.cfg.KeyPath != "" {
			err = srv.ListenAndServeTLS(app.cfg.CertPath, app.cfg.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	app.node.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}

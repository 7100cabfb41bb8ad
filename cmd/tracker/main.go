package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"mimir_tracker/tracker/database"
	"mimir_tracker/tracker/server"
)

const version = "0.1.0"

func gracefulShutdown(srv *server.Server, db database.Service, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully")

	if err := srv.Close(); err != nil {
		log.Printf("error closing server: %s", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("error closing database: %s", err)
	}

	log.Println("tracker exiting")
	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {
	log.Printf("starting mimir tracker %s", version)

	if len(os.Args) < 2 {
		fmt.Println("Usage: tracker [listen address]:port")
		return
	}
	listenAddr := os.Args[1]

	dbPath := os.Getenv("TRACKER_DB_PATH")
	if dbPath == "" {
		dbPath = database.DefaultPath
	}

	// Initialize database
	db, err := database.New(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	// Create server with dependencies
	srv := server.NewServer(listenAddr, db)
	if err := srv.Start(); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}

	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(srv, db, done)

	// Wait for graceful shutdown to complete
	<-done
}

// ABOUTME: Entry point for coven-router, the per-bot conversation router
// ABOUTME: Dispatches serve, init, health, ready, and check-auth commands

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _ __ ___  _   _| |_ ___ _ __
 / __/ _ \ \ / / _ \ '_ \ _____| '__/ _ \| | | | __/ _ \ '__|
| (_| (_) \ V /  __/ | | |_____| | | (_) | |_| | ||  __/ |
 \___\___/ \_/ \___|_| |_|     |_|  \___/ \__,_|\__\___|_|
`

// getConfigPath returns the path to the router config file.
// Priority: COVEN_ROUTER_CONFIG env var > XDG_CONFIG_HOME/coven/router.yaml > ~/.config/coven/router.yaml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ROUTER_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "router.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "router.yaml")
}

// getDataPath returns the path to the coven data directory.
// Priority: XDG_DATA_HOME/coven > ~/.local/share/coven
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven")
}

func usage() {
	fmt.Println("Usage: coven-router <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve        Start the router")
	fmt.Println("  init         Create a new config file interactively")
	fmt.Println("  health       Check router liveness")
	fmt.Println("  ready        Show router state and live conversations")
	fmt.Println("  check-auth   Fetch one channel credential and print its expiry")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "ready":
		err = runReady(ctx)
	case "check-auth":
		err = runCheckAuth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

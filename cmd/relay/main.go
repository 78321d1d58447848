package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/paul/glienicke/internal/store/sqlite"
	"github.com/paul/glienicke/pkg/config"
	"github.com/paul/glienicke/pkg/relay"
)

func main() {
	configPath, remaining := extractConfigFlag(os.Args[1:], "config/relay.yaml")

	loader := config.NewLoader(configPath)
	cfg, err := loader.LoadWithArgs(remaining)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	expandedPath := expandPath(cfg.Database.Path)
	log.Printf("Using SQLite database: %s", expandedPath)

	store, err := sqlite.New(expandedPath)
	if err != nil {
		log.Fatalf("Failed to initialize SQLite store: %v", err)
	}

	r := relay.New(store)
	defer r.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		if cfg.Network.TLSCert != "" && cfg.Network.TLSKey != "" {
			log.Printf("Starting Nostr relay v%s with TLS on %s (WSS)", relay.Version, cfg.Network.Address)
			log.Printf("Certificate: %s", cfg.Network.TLSCert)
			log.Printf("Private key: %s", cfg.Network.TLSKey)
			if err := r.StartTLS(cfg.Network.Address, cfg.Network.TLSCert, cfg.Network.TLSKey); err != nil {
				log.Fatalf("Relay error: %v", err)
			}
		} else {
			log.Printf("Starting Nostr relay v%s on %s (unencrypted WS)", relay.Version, cfg.Network.Address)
			log.Println("WARNING: Using unencrypted WebSocket connections. Use -cert and -key flags for production.")
			if err := r.Start(cfg.Network.Address); err != nil {
				log.Fatalf("Relay error: %v", err)
			}
		}
	}()

	<-sigCh
	log.Println("Shutting down relay...")
}

// extractConfigFlag pulls -config/--config out of args so the
// remaining flags can be handed to config.Loader, which defines its
// own FlagSet for -addr/-db/-cert/-key and would otherwise choke on
// an unrecognized -config flag.
func extractConfigFlag(args []string, fallback string) (string, []string) {
	path := fallback
	remaining := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				path = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "-config=") || strings.HasPrefix(arg, "--config="):
			path = arg[strings.Index(arg, "=")+1:]
		default:
			remaining = append(remaining, arg)
		}
	}

	return path, remaining
}

// expandPath expands ~ to home directory and makes path absolute
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	abs, err := filepath.Abs(path)
	if err == nil {
		return abs
	}
	return path
}

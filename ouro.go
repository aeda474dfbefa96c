package main

import (
	_ "embed"
	"fmt"
	"os"

	cli "github.com/neboloop/ouro/cmd/ouro"
	"github.com/neboloop/ouro/internal/config"
	"github.com/neboloop/ouro/internal/defaults"

	"github.com/joho/godotenv"
)

//go:embed etc/ouro.yaml
var embeddedConfig []byte

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	// Load embedded config (defaults)
	c, err := config.LoadFromBytes(embeddedConfig)
	if err != nil {
		fmt.Printf("Failed to load embedded config: %v\n", err)
		os.Exit(1)
	}

	if c.DataDir == "" {
		dataDir, err := defaults.DataDir()
		if err != nil {
			fmt.Printf("Failed to resolve data directory: %v\n", err)
			os.Exit(1)
		}
		c.DataDir = dataDir
	}

	// Pass config to CLI and execute
	if err := cli.SetupRootCmd(&c, version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

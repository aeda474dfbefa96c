package cli

import (
	"github.com/neboloop/ouro/internal/config"
)

// Shared CLI flags (used across multiple command files)
var (
	cfgFile    string
	modeArg    string
	telegram   bool
	noTelegram bool
	webhook    bool
	pipePrompt string
	verbose    bool
)

// ServerConfig holds the loaded configuration (set by main)
var ServerConfig *config.Config

// Version is the build version, set by main.
var Version = "dev"

// Package config provides centralized configuration management.
// All PROMPTER_* environment lookups live here instead of being
// scattered across the command layer.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// PrompterEnv holds all prompter environment variables.
type PrompterEnv struct {
	// SessionDir overrides the session storage directory (PROMPTER_SESSION_DIR)
	SessionDir string

	// CacheSize is the lazy-loader cache capacity (PROMPTER_CACHE_SIZE)
	CacheSize int

	// MaxConcurrentReads bounds concurrent file reads (PROMPTER_MAX_READS)
	MaxConcurrentReads int

	// MaxConcurrentWrites bounds concurrent file writes (PROMPTER_MAX_WRITES)
	MaxConcurrentWrites int

	// BatchSize is the file-processor batch size (PROMPTER_BATCH_SIZE)
	BatchSize int

	// OperationTimeout is the per-file I/O timeout (PROMPTER_OP_TIMEOUT)
	OperationTimeout time.Duration

	// MetadataMaxAge is how long index entries stay trusted (PROMPTER_METADATA_MAX_AGE)
	MetadataMaxAge time.Duration

	// NoColor disables colored output (PROMPTER_NO_COLOR or NO_COLOR)
	NoColor bool

	// Debug enables debug logging (PROMPTER_DEBUG)
	Debug bool
}

var (
	env     *PrompterEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *PrompterEnv {
	envOnce.Do(func() {
		env = &PrompterEnv{
			SessionDir:          os.Getenv("PROMPTER_SESSION_DIR"),
			CacheSize:           getEnvInt("PROMPTER_CACHE_SIZE", 100),
			MaxConcurrentReads:  getEnvInt("PROMPTER_MAX_READS", 10),
			MaxConcurrentWrites: getEnvInt("PROMPTER_MAX_WRITES", 5),
			BatchSize:           getEnvInt("PROMPTER_BATCH_SIZE", 20),
			OperationTimeout:    getEnvDuration("PROMPTER_OP_TIMEOUT", 30*time.Second),
			MetadataMaxAge:      getEnvDuration("PROMPTER_METADATA_MAX_AGE", 5*time.Minute),
			NoColor:             os.Getenv("PROMPTER_NO_COLOR") == "1" || os.Getenv("NO_COLOR") != "",
			Debug:               os.Getenv("PROMPTER_DEBUG") == "1",
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Paths holds standard prompter directory paths.
type Paths struct {
	// Home is the prompter home directory (~/.prompter)
	Home string

	// Sessions is the session file directory (~/.prompter/sessions)
	Sessions string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration. The session
// directory can be overridden via PROMPTER_SESSION_DIR.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		prompterHome := filepath.Join(home, ".prompter")

		sessions := Env().SessionDir
		if sessions == "" {
			sessions = filepath.Join(prompterHome, "sessions")
		}

		paths = &Paths{
			Home:     prompterHome,
			Sessions: sessions,
		}
	})
	return paths
}

// ResetPaths resets the cached paths (for testing).
func ResetPaths() {
	pathsOnce = sync.Once{}
	paths = nil
}

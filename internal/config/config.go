// Package config resolves process defaults and environment overrides for
// the downloader. Nothing here is secret; secrets live in the vault and the
// OS credential store.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mikelnorth/audiobookshelf-download-cli/krypto"
)

// Environment overrides.
const (
	EnvVaultPath     = "ABSDL_VAULT_PATH"
	EnvDownloadPath  = "ABSDL_DOWNLOAD_PATH"
	EnvKDFIterations = "ABSDL_KDF_ITERATIONS"
	EnvMaxConcurrent = "ABSDL_MAX_CONCURRENT"
)

const vaultFilename = ".audiobookshelf_keys"

// Config carries the resolved settings.
type Config struct {
	// VaultPath is the credential vault file location.
	VaultPath string
	// DownloadPath is the default directory for downloaded books; entries
	// may carry their own.
	DownloadPath string
	// KDFIterations is the PBKDF2 round count for new vault entries. The
	// environment can raise it but never lower it below the floor; only
	// the rekey maintenance command changes existing entries.
	KDFIterations int
	// MaxConcurrent caps simultaneous downloads.
	MaxConcurrent int
	// ChunkSize is the copy buffer size for file downloads.
	ChunkSize int
	// DownloadDelay spaces out download starts to be gentle on the server.
	DownloadDelay time.Duration
	// RequestTimeout bounds individual API requests.
	RequestTimeout time.Duration
	// MaxRetries is the per-file retry budget for failed downloads.
	MaxRetries int
	// OrganizeByAuthor creates author directories under the download path.
	OrganizeByAuthor bool
	// IncludeCovers downloads cover images next to the audio files.
	IncludeCovers bool
}

// Load returns the defaults with environment overrides applied.
func Load() Config {
	cfg := Config{
		VaultPath:        defaultVaultPath(),
		DownloadPath:     "./downloads",
		KDFIterations:    krypto.DefaultIterations,
		MaxConcurrent:    3,
		ChunkSize:        8192,
		DownloadDelay:    time.Second,
		RequestTimeout:   30 * time.Second,
		MaxRetries:       3,
		OrganizeByAuthor: true,
		IncludeCovers:    true,
	}

	if v := os.Getenv(EnvVaultPath); v != "" {
		cfg.VaultPath = v
	}
	if v := os.Getenv(EnvDownloadPath); v != "" {
		cfg.DownloadPath = v
	}
	if v := os.Getenv(EnvKDFIterations); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KDFIterations = n
		}
	}
	if cfg.KDFIterations < krypto.MinIterations {
		cfg.KDFIterations = krypto.MinIterations
	}
	if v := os.Getenv(EnvMaxConcurrent); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrent = n
		}
	}
	return cfg
}

func defaultVaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return vaultFilename
	}
	return filepath.Join(home, vaultFilename)
}

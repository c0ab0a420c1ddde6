package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/abs"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/config"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/download"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/hostid"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/picker"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/secret"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/vault"
	"github.com/mikelnorth/audiobookshelf-download-cli/krypto"
)

const cliVersion = "0.1.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Println(cliVersion)
	case "keys":
		if len(os.Args) < 3 {
			printKeysUsage()
			os.Exit(1)
		}
		var err error
		switch os.Args[2] {
		case "add", "update":
			err = runKeysPut(os.Args[3:])
		case "list":
			err = runKeysList(os.Args[3:])
		case "remove":
			err = runKeysRemove(os.Args[3:])
		case "test":
			err = runKeysTest(os.Args[3:])
		default:
			printKeysUsage()
			os.Exit(1)
		}
		handleError(err)
	case "download":
		handleError(runDownload(os.Args[2:]))
	case "rekey":
		handleError(runRekey(os.Args[2:]))
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: absdl <command>

commands:
  keys add|update|list|remove|test   manage server credentials
  download                           download books from a server
  rekey                              re-encrypt all credentials at a new iteration count
  version                            print version`)
}

func printKeysUsage() {
	fmt.Fprintln(os.Stderr, `usage: absdl keys <add|update|list|remove|test> [flags]`)
}

func handleError(err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}
	switch {
	case errors.Is(err, secret.ErrUnavailable):
		fmt.Fprintln(os.Stderr, "the OS credential store is unavailable; the master passphrase cannot be stored or read")
		os.Exit(1)
	case errors.Is(err, vault.ErrAuthFailed):
		fmt.Fprintln(os.Stderr, err.Error())
		fmt.Fprintln(os.Stderr, "the vault file is intact; re-enter this credential with 'absdl keys update'")
		os.Exit(1)
	case errors.Is(err, vault.ErrCorrupt):
		fmt.Fprintln(os.Stderr, err.Error())
		fmt.Fprintln(os.Stderr, "the vault file could not be parsed; back it up before resetting anything")
		os.Exit(1)
	case errors.Is(err, vault.ErrNotFound):
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
}

func openVault(cfg config.Config, logger zerolog.Logger) (*vault.Store, error) {
	secrets, err := secret.NewSystemStore()
	if err != nil {
		return nil, err
	}
	return vault.New(vault.Config{
		Path:         cfg.VaultPath,
		Secrets:      secrets,
		Fingerprints: hostid.New(secrets, logger),
		Prompt:       promptNewPassphrase,
		Iterations:   cfg.KDFIterations,
		Logger:       logger,
	})
}

// promptNewPassphrase asks for a master passphrase twice on first run.
func promptNewPassphrase() ([]byte, error) {
	fmt.Println("Setting up the master passphrase. It is stored in your OS")
	fmt.Println("credential store and combined with this machine's identifier")
	fmt.Println("to encrypt your API keys.")

	pw, err := promptHidden("Enter master passphrase (8+ characters): ")
	if err != nil {
		return nil, err
	}
	confirm, err := promptHidden("Confirm master passphrase: ")
	if err != nil {
		krypto.Zeroize(pw)
		return nil, err
	}
	defer krypto.Zeroize(confirm)

	if !bytes.Equal(pw, confirm) {
		krypto.Zeroize(pw)
		return nil, userError{msg: "passphrases do not match"}
	}
	return pw, nil
}

func promptHidden(label string) ([]byte, error) {
	fmt.Fprint(os.Stderr, label)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pw, nil
}

func runKeysPut(args []string) error {
	fs := flag.NewFlagSet("keys add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var name, server, apiKey, downloadPath string
	fs.StringVar(&name, "name", "", "profile name (e.g. 'home')")
	fs.StringVar(&server, "server", "", "server URL")
	fs.StringVar(&apiKey, "key", "", "API key (prompted if omitted)")
	fs.StringVar(&downloadPath, "path", "", "download path override")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if name == "" || server == "" {
		return userError{msg: "missing required flags: --name and --server"}
	}

	if apiKey == "" {
		key, err := promptHidden("Enter API key: ")
		if err != nil {
			return err
		}
		defer krypto.Zeroize(key)
		apiKey = string(key)
	}
	if apiKey == "" {
		return userError{msg: "API key is required"}
	}

	logger := newLogger()
	store, err := openVault(config.Load(), logger)
	if err != nil {
		return err
	}

	server = abs.NormalizeServerURL(server)
	if err := store.Put(name, server, apiKey, downloadPath); err != nil {
		return err
	}
	fmt.Printf("Saved %q for server %s\n", name, server)
	return nil
}

func runKeysList(args []string) error {
	fs := flag.NewFlagSet("keys list", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}

	cfg := config.Load()
	store, err := openVault(cfg, newLogger())
	if err != nil {
		return err
	}
	entries, err := store.Entries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No API keys stored.")
		return nil
	}

	for i, e := range entries {
		fmt.Printf("%d. %s\n", i+1, e.Name)
		fmt.Printf("   Server: %s\n", e.ServerAddress)
		path := e.DownloadPath
		if path == "" {
			path = cfg.DownloadPath
		}
		fmt.Printf("   Download path: %s\n", path)
		fmt.Printf("   Added: %s\n", e.CreatedAt.Local().Format(time.DateTime))
		if e.Credential.Mode == vault.ModeLegacy {
			fmt.Println("   Warning: credential is stored unencrypted; run 'absdl keys update' to protect it")
		}
	}
	return nil
}

func runKeysRemove(args []string) error {
	fs := flag.NewFlagSet("keys remove", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var name string
	fs.StringVar(&name, "name", "", "profile name")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if name == "" {
		return userError{msg: "missing required flag: --name"}
	}

	store, err := openVault(config.Load(), newLogger())
	if err != nil {
		return err
	}
	if err := store.Delete(name); err != nil {
		return err
	}
	fmt.Printf("Removed %q\n", name)
	return nil
}

func runKeysTest(args []string) error {
	fs := flag.NewFlagSet("keys test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var name string
	fs.StringVar(&name, "name", "", "profile name")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if name == "" {
		return userError{msg: "missing required flag: --name"}
	}

	cfg := config.Load()
	logger := newLogger()
	store, err := openVault(cfg, logger)
	if err != nil {
		return err
	}
	cred, err := store.Get(name)
	if err != nil {
		return err
	}

	client := abs.NewClient(cred.ServerAddress, cred.APIKey, cfg.RequestTimeout, logger)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("connection to %s failed: %w", cred.ServerAddress, err)
	}
	libs, err := client.Libraries(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s (%d libraries)\n", cred.ServerAddress, len(libs))
	for _, lib := range libs {
		fmt.Printf("  - %s\n", lib.Name)
	}
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var name, libraryName string
	var all bool
	fs.StringVar(&name, "name", "", "profile name")
	fs.StringVar(&libraryName, "library", "", "library name (default: first library)")
	fs.BoolVar(&all, "all", false, "download every book without the picker")

	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}

	cfg := config.Load()
	logger := newLogger()
	store, err := openVault(cfg, logger)
	if err != nil {
		return err
	}

	if name == "" {
		names, err := store.ListNames()
		if err != nil {
			return err
		}
		switch len(names) {
		case 0:
			return userError{msg: "no API keys stored; run 'absdl keys add' first"}
		case 1:
			name = names[0]
		default:
			return userError{msg: "multiple profiles stored; pick one with --name (" + strings.Join(names, ", ") + ")"}
		}
	}

	cred, err := store.Get(name)
	if err != nil {
		return err
	}
	if cred.Unprotected {
		fmt.Fprintln(os.Stderr, "warning: this credential is stored unencrypted; run 'absdl keys update' to protect it")
	}

	client := abs.NewClient(cred.ServerAddress, cred.APIKey, cfg.RequestTimeout, logger)
	ctx := context.Background()

	libs, err := client.Libraries(ctx)
	if err != nil {
		return err
	}
	if len(libs) == 0 {
		return userError{msg: "no libraries on this server"}
	}
	library := libs[0]
	if libraryName != "" {
		found := false
		for _, lib := range libs {
			if strings.EqualFold(lib.Name, libraryName) {
				library, found = lib, true
				break
			}
		}
		if !found {
			return userError{msg: fmt.Sprintf("library %q not found", libraryName)}
		}
	}

	items, err := client.LibraryItems(ctx, library.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return userError{msg: "library is empty"}
	}

	if !all {
		items, err = picker.Run(items)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("Nothing selected.")
			return nil
		}
	}

	dest := cred.DownloadPath
	if dest == "" {
		dest = cfg.DownloadPath
	}

	history, err := download.OpenHistory(filepath.Join(filepath.Dir(cfg.VaultPath), ".audiobookshelf_history.db"))
	if err != nil {
		logger.Warn().Err(err).Msg("download history unavailable; duplicates will not be skipped")
		history = nil
	} else {
		defer history.Close()
	}

	engine := download.NewEngine(client, history, logger)
	result, err := engine.Run(ctx, items, download.Options{
		Dest:             dest,
		Server:           cred.ServerAddress,
		MaxConcurrent:    cfg.MaxConcurrent,
		ChunkSize:        cfg.ChunkSize,
		Delay:            cfg.DownloadDelay,
		MaxRetries:       cfg.MaxRetries,
		OrganizeByAuthor: cfg.OrganizeByAuthor,
		IncludeCovers:    cfg.IncludeCovers,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Done: %d downloaded, %d skipped, %d failed\n", result.Downloaded, result.Skipped, result.Failed)
	if result.Failed > 0 {
		return userError{msg: "some downloads failed; re-run to retry them"}
	}
	return nil
}

func runRekey(args []string) error {
	fs := flag.NewFlagSet("rekey", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var iterations int
	fs.IntVar(&iterations, "iterations", krypto.DefaultIterations, "new PBKDF2 iteration count for every entry")
	if err := fs.Parse(args); err != nil {
		return userError{msg: "invalid arguments"}
	}
	if iterations < krypto.MinIterations {
		return userError{msg: fmt.Sprintf("iteration count must be at least %d", krypto.MinIterations)}
	}

	store, err := openVault(config.Load(), newLogger())
	if err != nil {
		return err
	}
	if err := store.Rekey(iterations); err != nil {
		return err
	}
	fmt.Printf("All credentials re-encrypted at %d iterations\n", iterations)
	return nil
}

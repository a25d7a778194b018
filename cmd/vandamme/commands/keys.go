package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/vandamme-proxy/vandamme/internal/tokensource"
)

// keysCommand returns the 'keys' subcommand for managing provider API keys in the OS keyring.
func keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage provider API keys stored in the OS keyring",
		Commands: []*cli.Command{
			{
				Name:      "set",
				Usage:     "Store API keys for a provider (comma-separated for rotation)",
				ArgsUsage: "<provider>",
				Action:    keysSetAction,
			},
			{
				Name:      "delete",
				Usage:     "Remove a provider's stored API keys",
				ArgsUsage: "<provider>",
				Action:    keysDeleteAction,
			},
		},
	}
}

// keyringStore resolves the named provider and returns its keyring store.
func keyringStore(cmd *cli.Command) (string, tokensource.Store, error) {
	name := strings.TrimSpace(cmd.Args().First())
	if name == "" {
		return "", nil, errors.New("provider name is required")
	}

	cfg, err := loadConfig(cmd, environ)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load config: %w", err)
	}

	p, ok := cfg.Providers[name]
	if !ok {
		return "", nil, fmt.Errorf("provider %q is not configured", name)
	}
	if tokensource.StorageType(p.APIKeySource) != tokensource.StorageTypeKeyring {
		return "", nil, fmt.Errorf("provider %q reads keys from %s (read-only). Set api_key_source = %q to manage keys here",
			name, p.APIKeySource, tokensource.StorageTypeKeyring)
	}
	return name, p.NewKeyStore(name, os.LookupEnv), nil
}

func keysSetAction(ctx context.Context, cmd *cli.Command) error {
	name, store, err := keyringStore(cmd)
	if err != nil {
		return err
	}

	raw, err := readSecureInput(ctx, cmd, fmt.Sprintf("Enter API key(s) for %s: ", name))
	if err != nil {
		return err
	}
	keys := tokensource.ParseKeys(raw)
	if len(keys) == 0 {
		return errors.New("API key cannot be empty")
	}

	if err := store.Write(ctx, strings.Join(keys, ",")); err != nil {
		return fmt.Errorf("failed to write keys: %w", err)
	}

	fmt.Fprintf(cmd.Root().Writer, "Stored %d key(s) for %s in the keyring\n", len(keys), name)
	return nil
}

func keysDeleteAction(ctx context.Context, cmd *cli.Command) error {
	name, store, err := keyringStore(cmd)
	if err != nil {
		return err
	}

	// Clear keys via empty string write to maintain storage abstraction
	if err := store.Write(ctx, ""); err != nil {
		return fmt.Errorf("failed to clear keys: %w", err)
	}

	fmt.Fprintf(cmd.Root().Writer, "Removed keys for %s from the keyring\n", name)
	return nil
}

// readSecureInput reads user input with hidden display and context cancellation support.
// Goroutine+select pattern required because term.ReadPassword has no native context support.
// Piped input is read as a plain line.
func readSecureInput(ctx context.Context, cmd *cli.Command, prompt string) (string, error) {
	w := cmd.Root().Writer
	fmt.Fprint(w, prompt)
	defer fmt.Fprintln(w)

	type result struct {
		value string
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		if f, ok := cmd.Root().Reader.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			inputBytes, err := term.ReadPassword(int(f.Fd()))
			resultCh <- result{value: string(inputBytes), err: err}
			return
		}
		line, err := bufio.NewReader(cmd.Root().Reader).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		resultCh <- result{value: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return "", fmt.Errorf("failed to read input: %w", res.err)
		}
		return res.value, nil
	}
}

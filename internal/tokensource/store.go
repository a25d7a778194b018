package tokensource

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the OS keyring service name under which provider keys are stored.
const KeyringService = "vandamme"

var (
	// ErrReadOnly is returned by Write on stores that cannot be modified.
	ErrReadOnly = errors.New("key store is read-only")
	// ErrNoKeys is returned when a store holds no usable key.
	ErrNoKeys = errors.New("no API key configured")
)

// StorageType selects where a provider's API keys live.
type StorageType string

const (
	StorageTypeConfig  StorageType = "config"
	StorageTypeEnv     StorageType = "env"
	StorageTypeKeyring StorageType = "keyring"
)

// Store reads and writes the raw key value of one provider. Writing an empty value
// clears the stored keys.
type Store interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, value string) error
}

// ParseKeys splits a raw value into its comma-separated keys, dropping blanks.
func ParseKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// EnvStore reads keys from <PREFIX>_API_KEY. It is read-only.
type EnvStore struct {
	variable string
	lookup   func(string) (string, bool)
}

// NewEnvStore returns a store reading <prefix>_API_KEY through lookup, usually os.LookupEnv.
func NewEnvStore(prefix string, lookup func(string) (string, bool)) *EnvStore {
	return &EnvStore{variable: EnvVariable(prefix, "API_KEY"), lookup: lookup}
}

// EnvVariable builds a provider-scoped variable name such as OPENAI_BASE_URL.
func EnvVariable(provider, suffix string) string {
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
	return name + "_" + suffix
}

func (s *EnvStore) Read(_ context.Context) (string, error) {
	value, ok := s.lookup(s.variable)
	if !ok || strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrNoKeys, s.variable)
	}
	return value, nil
}

func (s *EnvStore) Write(_ context.Context, _ string) error {
	return fmt.Errorf("%w: set %s in the environment instead", ErrReadOnly, s.variable)
}

// KeyringStore keeps keys in the OS keyring, one entry per provider.
type KeyringStore struct {
	user string
}

// NewKeyringStore returns a store for the named provider.
func NewKeyringStore(provider string) *KeyringStore {
	return &KeyringStore{user: provider}
}

func (s *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	value, err := keyring.Get(KeyringService, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("%w: no keyring entry for %q", ErrNoKeys, s.user)
	}
	if err != nil {
		return "", fmt.Errorf("read keyring: %w", err)
	}
	return value, nil
}

func (s *KeyringStore) Write(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if value == "" {
		err := keyring.Delete(KeyringService, s.user)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("delete keyring entry: %w", err)
		}
		return nil
	}
	if err := keyring.Set(KeyringService, s.user, value); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

// StaticStore serves keys taken from the configuration file. It is read-only.
type StaticStore struct {
	keys []string
}

// NewStaticStore returns a store over fixed keys.
func NewStaticStore(keys []string) *StaticStore {
	return &StaticStore{keys: keys}
}

func (s *StaticStore) Read(_ context.Context) (string, error) {
	if len(s.keys) == 0 {
		return "", ErrNoKeys
	}
	return strings.Join(s.keys, ","), nil
}

func (s *StaticStore) Write(_ context.Context, _ string) error {
	return fmt.Errorf("%w: edit api_keys in the configuration file instead", ErrReadOnly)
}

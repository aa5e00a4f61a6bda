package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "ragcache"

// knownSecrets is the list of secret names checked by List().
var knownSecrets = []string{"openai", "filer"}

// Vault provides secure secret storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores a secret under the given name in the OS keychain.
func (v *Vault) Set(name, key string) error {
	return keyring.Set(serviceName, name, key)
}

// Get retrieves the secret with the given name. It first checks the
// OS keychain, then falls back to the environment variable
// RAGCACHE_KEY_{UPPER(name)}.
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	// Fallback to environment variable.
	envKey := "RAGCACHE_KEY_" + strings.ToUpper(name)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no key found for %q: not in keychain and %s not set", name, envKey)
}

// Delete removes the secret with the given name from the OS keychain.
func (v *Vault) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

// List returns the known secret names that currently have values stored.
// It checks both the keychain and environment variables for each name.
func (v *Vault) List() ([]string, error) {
	var names []string

	for _, name := range knownSecrets {
		secret, err := keyring.Get(serviceName, name)
		if err == nil && secret != "" {
			names = append(names, name)
			continue
		}

		envKey := "RAGCACHE_KEY_" + strings.ToUpper(name)
		if val := os.Getenv(envKey); val != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// ResolveKeyRef parses a key reference and retrieves the corresponding secret.
// Supported formats:
//   - "keyring://ragcache/<name>" (preferred)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
//
// An empty keyRef resolves to an empty key, for endpoints that need none.
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if keyRef == "" {
		return "", nil
	}

	// Format 1: keyring://ragcache/<name>
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://ragcache/<name>\")", keyRef)
		}
		return v.Get(parts[1])
	}

	// Format 2: env:VARIABLE_NAME
	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	// Format 3: file:///path/to/key
	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://ragcache/<name>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}

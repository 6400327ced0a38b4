package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	keychainService = "hamster"
	apiTokenAccount = "api_token"
)

// ErrNoAPIToken is returned by StoredAPIToken before any daemon has
// generated a token.
var ErrNoAPIToken = errors.New("no API token stored, start hamster serve first")

// Keychain stores secrets outside the config backend.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: the macOS Keychain via the
// security CLI, or a secrets.json file under $XDG_DATA_HOME/hamster elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// StoredAPIToken returns the bearer token of the control API without
// creating one.
func StoredAPIToken(kc Keychain) (string, error) {
	tok, err := kc.Get(keychainService, apiTokenAccount)
	if err != nil || tok == "" {
		return "", ErrNoAPIToken
	}
	return tok, nil
}

// APIToken returns the bearer token of the control API, generating and
// storing one on first use.
func APIToken(kc Keychain) (string, error) {
	if tok, err := StoredAPIToken(kc); err == nil {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating api token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, apiTokenAccount, tok); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return tok, nil
}

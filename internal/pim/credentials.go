package pim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringPrefix marks a password that must be looked up in the OS keyring.
// "keyring:pim-prod" resolves the secret stored under user "pim-prod".
const KeyringPrefix = "keyring:"

// DefaultKeyringService is the keyring service name used when none is set.
const DefaultKeyringService = "fourallportal"

// ResolvePassword returns password unchanged unless it carries KeyringPrefix,
// in which case the secret is read from the keyring under service.
func ResolvePassword(service, password string) (string, error) {
	ref, ok := strings.CutPrefix(password, KeyringPrefix)
	if !ok {
		return password, nil
	}
	if service == "" {
		service = DefaultKeyringService
	}
	secret, err := keyring.Get(service, ref)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("keyring secret %q not found in service %q", ref, service)
	}
	if err != nil {
		return "", fmt.Errorf("keyring secret %q: %w", ref, err)
	}
	return secret, nil
}

// Package keyring caches the relay session token in the OS keyring so
// the client can refresh its session across restarts without
// re-prompting for credentials. The master secret is never stored
// here or anywhere else.
package keyring

import (
	"github.com/zalando/go-keyring"
)

const serviceName = "passlock"

// SaveToken stores the relay session token for a login.
func SaveToken(login, token string) error {
	return keyring.Set(serviceName, login, token)
}

// GetToken retrieves the relay session token for a login.
func GetToken(login string) (string, error) {
	return keyring.Get(serviceName, login)
}

// DeleteToken removes the stored session token for a login.
func DeleteToken(login string) error {
	return keyring.Delete(serviceName, login)
}

package config

import (
	"fmt"

	"github.com/gbl08ma/keybox"
)

// BrokerCredentials holds the push-port broker username and password, kept
// out of the YAML configuration file the same way the teacher keeps its
// database URI and API keys in a keybox rather than plain config.
type BrokerCredentials struct {
	User     string
	Password string
}

// LoadSecrets opens the keybox at path and extracts the broker credentials.
func LoadSecrets(path string) (BrokerCredentials, error) {
	box, err := keybox.Open(path)
	if err != nil {
		return BrokerCredentials{}, fmt.Errorf("config: opening keybox %s: %w", path, err)
	}

	user, present := box.Get("broker.user")
	if !present {
		return BrokerCredentials{}, fmt.Errorf("config: broker.user not present in keybox")
	}
	password, present := box.Get("broker.password")
	if !present {
		return BrokerCredentials{}, fmt.Errorf("config: broker.password not present in keybox")
	}

	return BrokerCredentials{User: user, Password: password}, nil
}

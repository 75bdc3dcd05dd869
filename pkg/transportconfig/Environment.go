package transportconfig

import (
	"errors"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"
)

// Environment variables that override the configuration file
const (
	EnvHost     = "MQTT_TRANSPORT_HOST"
	EnvPort     = "MQTT_TRANSPORT_PORT"
	EnvUsername = "MQTT_TRANSPORT_USERNAME"
	EnvPassword = "MQTT_TRANSPORT_PASSWORD"
	EnvClientID = "MQTT_TRANSPORT_CLIENT_ID"
)

// environment holds the connection settings that can be provided through environment variables
type environment struct {
	Host     string `env:"MQTT_TRANSPORT_HOST"`
	Port     int    `env:"MQTT_TRANSPORT_PORT"`
	Username string `env:"MQTT_TRANSPORT_USERNAME"`
	Password string `env:"MQTT_TRANSPORT_PASSWORD"`
	ClientID string `env:"MQTT_TRANSPORT_CLIENT_ID"`
}

// ApplyEnvironment overrides connection settings with those set in the environment.
// Credentials are best kept out of configuration files and provided this way.
func ApplyEnvironment(config *TransportConfig) error {
	env := environment{}
	err := envdecode.Decode(&env)
	if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil
	} else if err != nil {
		logrus.Errorf("ApplyEnvironment: %s", err)
		return err
	}
	if env.Host != "" {
		config.Host = env.Host
	}
	if env.Port != 0 {
		config.Port = env.Port
	}
	if env.Username != "" {
		config.Username = env.Username
	}
	if env.Password != "" {
		config.Password = env.Password
	}
	if env.ClientID != "" {
		config.ClientID = env.ClientID
	}
	logrus.Infof("ApplyEnvironment: connection settings from environment applied")
	return nil
}

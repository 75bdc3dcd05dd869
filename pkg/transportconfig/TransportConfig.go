// Package transportconfig with the MQTT transport configuration struct and methods
package transportconfig

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/wostzone/mqtttransport-go/api"
)

// Supported broker protocols
const (
	ProtocolMqtt  = "mqtt"
	ProtocolMqtts = "mqtts"
	ProtocolWS    = "ws"
	ProtocolWSS   = "wss"
)

// MaxQos is the highest MQTT quality of service level
const MaxQos = 2

// DefaultTimeoutSec for connecting and for waiting on publish and subscribe acknowledgements
const DefaultTimeoutSec = 10

// DefaultLogLevel when none is configured
const DefaultLogLevel = "warning"

// TransportConfig with the broker connection and channel configuration.
// A transport copies the configuration when it is created. Later changes have no effect.
type TransportConfig struct {
	// channel
	Prefix       string          `yaml:"prefix"`                  // topic prefix of all channels
	Retain       bool            `yaml:"retain"`                  // publish with the retain flag
	Qos          byte            `yaml:"qos"`                     // publish and subscribe quality of service, 0..2
	AddTimestamp TimestampPolicy `yaml:"add_timestamp,omitempty"` // true, false or list of bands
	AllowUpdated bool            `yaml:"allow_updated"`           // permit subscribing to updates

	// broker connection
	Host     string `yaml:"host"`               // broker hostname or address
	Port     int    `yaml:"port,omitempty"`     // broker port, default depends on protocol
	Protocol string `yaml:"protocol,omitempty"` // mqtt, mqtts, ws or wss. Default depends on certificates
	CaFile   string `yaml:"ca,omitempty"`       // CA certificate file to verify the broker
	CertFile string `yaml:"cert,omitempty"`     // client certificate file
	KeyFile  string `yaml:"key,omitempty"`      // client private key file
	ClientID string `yaml:"client_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Timeout  int    `yaml:"timeout,omitempty"` // seconds

	// logging
	Verbose  bool   `yaml:"verbose"`   // log each publication and connection at info level
	LogLevel string `yaml:"log_level"` // debug, info, warning, error
	LogFile  string `yaml:"log_file"`  // log to file in addition to stderr
}

// CreateDefaultConfig with default values
func CreateDefaultConfig() *TransportConfig {
	config := &TransportConfig{
		Qos:          0,
		Retain:       false,
		AllowUpdated: true,
		Timeout:      DefaultTimeoutSec,
		LogLevel:     DefaultLogLevel,
	}
	return config
}

// DefaultClientID generates a client ID from the hostname and a random suffix
func DefaultClientID() string {
	hostName, _ := os.Hostname()
	if hostName == "" {
		hostName = "mqtttransport"
	}
	return fmt.Sprintf("%s-%s", hostName, uuid.NewString()[:8])
}

// LoadConfig loads the configuration from file into the given config
//  configFile path to yaml configuration file
//  config interface to typed structure matching the config. Must have yaml tags
//  substituteMap map to substitute {{.key}} with value from map, nil to ignore
// Returns nil if successful
func LoadConfig(configFile string, config interface{}, substituteMap map[string]string) error {
	rawConfig, err := os.ReadFile(configFile)
	if err != nil {
		logrus.Infof("LoadConfig: Unable to load config file: %s", err)
		return err
	}
	logrus.Infof("LoadConfig: Loaded config file '%s'", configFile)
	rawText := string(rawConfig)
	if substituteMap != nil {
		rawText, err = SubstituteText(rawText, substituteMap)
		if err != nil {
			logrus.Errorf("LoadConfig: Invalid template in config file '%s': %s", configFile, err)
			return err
		}
	}

	err = yaml.Unmarshal([]byte(rawText), config)
	if err != nil {
		logrus.Errorf("LoadConfig: Error parsing config file '%s': %s", configFile, err)
		return err
	}
	return nil
}

// SubstituteText replaces template strings in the text
//  text to substitute template strings, eg "hello {{.destination}}"
//  substituteMap with replacement keywords, eg {"destination":"world"}
// Returns text with template strings replaced
func SubstituteText(text string, substituteMap map[string]string) (string, error) {
	var msg bytes.Buffer

	tpl, err := template.New("").Parse(text)
	if err != nil {
		return text, err
	}
	err = tpl.Execute(&msg, substituteMap)
	return msg.String(), err
}

// ValidateTransportConfig checks the channel settings used by the transport
func ValidateTransportConfig(config *TransportConfig) error {
	// wildcards in a published topic are a protocol violation
	if strings.ContainsAny(config.Prefix, "+#\x00") {
		err := fmt.Errorf("%w: prefix '%s' must not contain '+', '#' or NUL",
			api.ErrInvalidArgument, config.Prefix)
		logrus.Errorf("ValidateTransportConfig: %s", err)
		return err
	}
	if config.Qos > MaxQos {
		err := fmt.Errorf("qos %d is invalid, must be 0, 1 or 2", config.Qos)
		logrus.Errorf("ValidateTransportConfig: %s", err)
		return err
	}
	switch config.Protocol {
	case "", ProtocolMqtt, ProtocolMqtts, ProtocolWS, ProtocolWSS:
	default:
		err := fmt.Errorf("protocol '%s' is not supported", config.Protocol)
		logrus.Errorf("ValidateTransportConfig: %s", err)
		return err
	}
	return nil
}

// ValidateConnectionConfig checks the settings needed to connect to the broker
func ValidateConnectionConfig(config *TransportConfig) error {
	err := ValidateTransportConfig(config)
	if err != nil {
		return err
	}
	if config.Host == "" {
		err = fmt.Errorf("broker host not provided")
		logrus.Errorf("ValidateConnectionConfig: %s", err)
		return err
	}
	if (config.CertFile == "") != (config.KeyFile == "") {
		err = fmt.Errorf("client certificate and key must be provided together")
		logrus.Errorf("ValidateConnectionConfig: %s", err)
		return err
	}
	for _, file := range []string{config.CaFile, config.CertFile, config.KeyFile} {
		if file == "" {
			continue
		}
		if _, err = os.Stat(file); err != nil {
			logrus.Errorf("ValidateConnectionConfig: TLS file '%s' not found", file)
			return err
		}
	}
	return nil
}

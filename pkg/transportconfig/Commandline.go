package transportconfig

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
)

// SetCommandlineArgs creates the transport commandline flags on the default flag set
//
// -c            /path/to/transport.yaml optional configuration file
// -prefix       home                    topic prefix
// -host         localhost               broker host
// -port         1883                    broker port
// -protocol     mqtt                    mqtt, mqtts, ws or wss
// -ca, -cert, -key                      TLS files
// -clientID     id                      MQTT client ID
// -username     name                    broker login name. The password is only taken from file or environment
// -retain                               publish with retain
// -qos          0                       quality of service
// -addTimestamp true|false|band1,band2  timestamp published values
// -allowUpdated                         permit subscribing to updates
// -verbose                              log each operation
// -logFile      /path/to/transport.log  optional logfile
// -logLevel     warning                 error, warning, info or debug
func SetCommandlineArgs(config *TransportConfig) {
	// -c is handled by LoadCommandlineConfig. It is added here to avoid a flag parse error
	flag.String("c", "", "Transport configuration `file`")
	flag.StringVar(&config.Prefix, "prefix", config.Prefix, "Topic prefix")
	flag.StringVar(&config.Host, "host", config.Host, "Broker hostname or address")
	flag.IntVar(&config.Port, "port", config.Port, "Broker port")
	flag.StringVar(&config.Protocol, "protocol", config.Protocol, "Broker protocol: {mqtt|mqtts|ws|wss}")
	flag.StringVar(&config.CaFile, "ca", config.CaFile, "CA certificate `file`")
	flag.StringVar(&config.CertFile, "cert", config.CertFile, "Client certificate `file`")
	flag.StringVar(&config.KeyFile, "key", config.KeyFile, "Client key `file`")
	flag.StringVar(&config.ClientID, "clientID", config.ClientID, "MQTT client ID")
	flag.StringVar(&config.Username, "username", config.Username, "Broker login name")
	flag.BoolVar(&config.Retain, "retain", config.Retain, "Publish with retain")
	flag.Func("qos", "Quality of service: {0|1|2}", func(value string) error {
		return parseQos(value, &config.Qos)
	})
	flag.Var(&config.AddTimestamp, "addTimestamp", "Add @timestamp: {true|false|band,...}")
	flag.BoolVar(&config.AllowUpdated, "allowUpdated", config.AllowUpdated, "Permit subscribing to updates")
	flag.IntVar(&config.Timeout, "timeout", config.Timeout, "Connection and acknowledgement timeout in seconds")
	flag.BoolVar(&config.Verbose, "verbose", config.Verbose, "Log each operation")
	flag.StringVar(&config.LogFile, "logFile", config.LogFile, "Log to file")
	flag.StringVar(&config.LogLevel, "logLevel", config.LogLevel, "Loglevel: {error|`warning`|info|debug}")
}

// LoadCommandlineConfig loads the transport configuration and applies commandline flags.
// Settings are applied in order: defaults, the config file given with -c, environment and
// commandline flags. Extra application flags must be defined before calling this.
//  args are the commandline arguments without the program name
//  substituteMap replaces {{.key}} in the configuration file, nil to ignore
// Returns the configuration and the first error encountered
func LoadCommandlineConfig(args []string, substituteMap map[string]string) (*TransportConfig, error) {
	config := CreateDefaultConfig()

	configFile := ""
	for index, arg := range args {
		if (arg == "-c" || arg == "--c") && index+1 < len(args) {
			configFile = args[index+1]
			break
		}
	}
	if configFile != "" {
		logrus.Infof("LoadCommandlineConfig: Using %s as config file", configFile)
		err := LoadConfig(configFile, config, substituteMap)
		if err != nil {
			return config, err
		}
	}
	err := ApplyEnvironment(config)
	if err != nil {
		return config, err
	}

	SetCommandlineArgs(config)
	// catch parsing errors, in case flag.ErrorHandling = flag.ContinueOnError
	err = flag.CommandLine.Parse(args)
	if err != nil {
		return config, err
	}
	err = ValidateTransportConfig(config)
	if err != nil {
		return config, err
	}
	err = SetLogging(config.LogLevel, config.LogFile)
	return config, err
}

// parseQos parses a commandline qos value
func parseQos(value string, qos *byte) error {
	level, err := strconv.ParseUint(value, 10, 8)
	if err != nil || level > MaxQos {
		return fmt.Errorf("qos '%s' is invalid, must be 0, 1 or 2", value)
	}
	*qos = byte(level)
	return nil
}

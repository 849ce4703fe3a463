package main

import (
	"errors"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	// DefaultPort is the TCP port wsserved listens on when neither an env
	// var nor the config file overrides it.
	DefaultPort = 8080

	// DefaultMaxMessageBytes bounds an incoming frame's declared payload
	// length (spec section 4.2's max_in). 0 disables the limit.
	DefaultMaxMessageBytes = 16 << 20 // 16 MiB.
)

// flags defines wsserved's CLI flags. Each one except pretty-log can also
// be set with an environment variable or in the TOML config file pointed to by
// configFilePath, in that priority order, per spec section 2's ambient
// config stack.
func flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "bind-address",
			Usage: "local IP address to bind the listening socket to (empty means all interfaces)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_BIND_ADDRESS"),
				toml.TOML("server.bind_address", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "TCP port to listen on",
			Value: DefaultPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_PORT"),
				toml.TOML("server.port", configFilePath),
			),
			Validator: validatePort,
		},
		&cli.StringFlag{
			Name:  "tls-cert-file",
			Usage: "path to a PEM certificate file; enables TLS when set together with tls-key-file",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_TLS_CERT_FILE"),
				toml.TOML("server.tls_cert_file", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "tls-key-file",
			Usage: "path to a PEM private key file; enables TLS when set together with tls-cert-file",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_TLS_KEY_FILE"),
				toml.TOML("server.tls_key_file", configFilePath),
			),
		},
		&cli.StringSliceFlag{
			Name:  "subprotocol",
			Usage: "allowed WebSocket subprotocol name (repeatable)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_SUBPROTOCOLS"),
				toml.TOML("server.subprotocols", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "server-name",
			Usage: "value sent in the handshake response's Server header (empty omits the header)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_SERVER_NAME"),
				toml.TOML("server.server_name", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-message-bytes",
			Usage: "maximum accepted incoming frame payload length, 0 for unlimited",
			Value: DefaultMaxMessageBytes,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_MAX_MESSAGE_BYTES"),
				toml.TOML("server.max_message_bytes", configFilePath),
			),
			Validator: func(n int) error {
				if n < 0 {
					return errors.New("must not be negative")
				}
				return nil
			},
		},
		&cli.DurationFlag{
			Name:  "tick-interval",
			Usage: "how long the driver loop sleeps between cooperative ticks",
			Value: defaultTickInterval,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_TICK_INTERVAL"),
				toml.TOML("server.tick_interval", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "ping-after",
			Usage: "send a ping to a connection idle for at least this long",
			Value: defaultPingAfter,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_PING_AFTER"),
				toml.TOML("server.ping_after", configFilePath),
			),
		},
		&cli.DurationFlag{
			Name:  "timeout-after",
			Usage: "drop a connection idle for at least this long",
			Value: defaultTimeoutAfter,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSSERVED_TIMEOUT_AFTER"),
				toml.TOML("server.timeout_after", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}
}

func validatePort(p int) error {
	if p < 0 || p > 65535 {
		return errors.New("out of range [0-65535]")
	}
	return nil
}

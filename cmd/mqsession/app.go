package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/mqsession"
	"pkt.systems/mqsession/statestore"
	"pkt.systems/pslog"
)

const (
	serverKey        = "mqtt.server"
	clientIDKey      = "mqtt.client_id"
	usernameKey      = "mqtt.username"
	passwordFileKey  = "mqtt.password_file"
	cleanStartKey    = "mqtt.clean_start"
	keepAliveKey     = "mqtt.keepalive"
	sessionExpiryKey = "mqtt.session_expiry"
	logLevelKey      = "log.level"
	logOutputKey     = "log.output"
)

func newRootCommand() *cobra.Command {
	cfg := &cliConfig{}
	var verbose bool

	cmd := &cobra.Command{
		Use:           "mqsession",
		Short:         "MQTT session client and state store tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "tcp://127.0.0.1:1883", "MQTT server URL")
	flags.String("client-id", "", "MQTT client ID (default generated)")
	flags.String("username", "", "MQTT username")
	flags.String("password-file", "", "path to a file holding the MQTT password")
	flags.Bool("clean-start", true, "start a fresh session on first connect")
	flags.Duration("keepalive", 60*time.Second, "MQTT keep alive interval")
	flags.Duration("session-expiry", time.Hour, "MQTT session expiry interval")
	flags.String("log-level", "none", "log level (trace|debug|info|warn|error|none)")
	flags.String("log-output", "", "log output path (default stderr)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) logging")

	mustBindFlag(serverKey, "MQSESSION_SERVER", flags.Lookup("server"))
	mustBindFlag(clientIDKey, "MQSESSION_CLIENT_ID", flags.Lookup("client-id"))
	mustBindFlag(usernameKey, "MQSESSION_USERNAME", flags.Lookup("username"))
	mustBindFlag(passwordFileKey, "MQSESSION_PASSWORD_FILE", flags.Lookup("password-file"))
	mustBindFlag(cleanStartKey, "MQSESSION_CLEAN_START", flags.Lookup("clean-start"))
	mustBindFlag(keepAliveKey, "MQSESSION_KEEPALIVE", flags.Lookup("keepalive"))
	mustBindFlag(sessionExpiryKey, "MQSESSION_SESSION_EXPIRY", flags.Lookup("session-expiry"))
	mustBindFlag(logLevelKey, "MQSESSION_LOG_LEVEL", flags.Lookup("log-level"))
	mustBindFlag(logOutputKey, "MQSESSION_LOG_OUTPUT", flags.Lookup("log-output"))

	cfg.verboseFlag = &verbose

	cmd.AddCommand(
		newPubCommand(cfg),
		newSubCommand(cfg),
		newGetCommand(cfg),
		newSetCommand(cfg),
		newDelCommand(cfg),
		newWatchCommand(cfg),
		newLockCommand(cfg),
		newElectCommand(cfg),
	)

	return cmd
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

type cliConfig struct {
	logger      pslog.Logger
	logClosers  []io.Closer
	loggerReady bool
	verboseFlag *bool
}

func (c *cliConfig) setupLogger() error {
	if c.loggerReady {
		return nil
	}

	levelStr := strings.TrimSpace(strings.ToLower(viper.GetString(logLevelKey)))
	if c.verboseFlag != nil && *c.verboseFlag {
		levelStr = "trace"
	}
	if levelStr == "" || levelStr == "none" || levelStr == "off" {
		c.logger = pslog.NoopLogger()
		c.loggerReady = true
		return nil
	}

	level, ok := pslog.ParseLevel(levelStr)
	if !ok {
		return fmt.Errorf("invalid log level %q", levelStr)
	}

	var writer io.Writer = os.Stderr
	switch output := viper.GetString(logOutputKey); output {
	case "", "stderr":
	case "-", "stdout":
		writer = os.Stdout
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		c.logClosers = append(c.logClosers, f)
		writer = f
	}

	c.logger = pslog.NewStructured(writer).With("app", "mqsession").LogLevel(level)
	c.loggerReady = true
	return nil
}

func (c *cliConfig) cleanup() {
	for _, closer := range c.logClosers {
		_ = closer.Close()
	}
	c.logClosers = nil
	c.logger = nil
	c.loggerReady = false
}

// newSessionClient builds and starts a session client from the persistent
// flags. The returned stop function also tears down the logger.
func (c *cliConfig) newSessionClient() (*mqsession.SessionClient, func(), error) {
	if err := c.setupLogger(); err != nil {
		return nil, nil, err
	}

	settings := mqsession.ConnectionSettings{
		ServerURL:     viper.GetString(serverKey),
		ClientID:      viper.GetString(clientIDKey),
		Username:      viper.GetString(usernameKey),
		PasswordFile:  viper.GetString(passwordFileKey),
		CleanStart:    viper.GetBool(cleanStartKey),
		KeepAlive:     viper.GetDuration(keepAliveKey),
		SessionExpiry: viper.GetDuration(sessionExpiryKey),
	}

	client, err := mqsession.NewSessionClient(
		settings.ServerURL,
		mqsession.WithConnectionSettings(&settings),
		mqsession.WithLogger(c.logger),
	)
	if err != nil {
		c.cleanup()
		return nil, nil, err
	}

	if err := client.Start(); err != nil {
		c.cleanup()
		return nil, nil, err
	}

	return client, func() {
		_ = client.Stop()
		c.cleanup()
	}, nil
}

// newStore builds a started session client plus a state store client on it.
func (c *cliConfig) newStore(ctx context.Context) (
	*statestore.Client[string, []byte], func(), error,
) {
	client, stopClient, err := c.newSessionClient()
	if err != nil {
		return nil, nil, err
	}

	store, err := statestore.New[string, []byte](
		client, statestore.WithLogger(c.logger),
	)
	if err != nil {
		stopClient()
		return nil, nil, err
	}

	if err := store.Start(ctx); err != nil {
		stopClient()
		return nil, nil, err
	}

	return store, func() {
		store.Stop()
		stopClient()
	}, nil
}

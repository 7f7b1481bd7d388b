package mqsession

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ConnectionSettings describes how to reach and authenticate with the MQTT
// server. The zero value is not usable; ServerURL is required.
type ConnectionSettings struct {
	// ServerURL locates the server, e.g. "tcp://localhost:1883" or
	// "ssl://broker:8883". Schemes tcp and mqtt dial plain TCP; ssl, tls,
	// and mqtts dial TLS.
	ServerURL string

	// ClientID is the MQTT client identifier. A random one is generated
	// when empty.
	ClientID string

	// Username and Password are sent in the CONNECT packet when non-empty.
	// PasswordFile, when set, is read on every connect attempt and takes
	// precedence over Password, supporting rotated credentials.
	Username     string
	Password     []byte
	PasswordFile string

	// CleanStart applies to the first connection only; reconnections always
	// request session resumption.
	CleanStart bool

	// KeepAlive is the MQTT keep-alive interval. Zero lets the client pick
	// the 60s default.
	KeepAlive time.Duration

	// SessionExpiry asks the server to retain session state this long after
	// a disconnection. Zero lets the client pick the 1h default.
	SessionExpiry time.Duration

	// ReceiveMaximum caps concurrent inbound QoS 1 deliveries. Zero means
	// the MQTT default of 65535.
	ReceiveMaximum uint16

	// ConnectionTimeout bounds each individual connect attempt. Zero means
	// the 30s default.
	ConnectionTimeout time.Duration

	// UserProperties are attached to the CONNECT packet.
	UserProperties map[string]string

	// TLSConfig is used verbatim when dialing a TLS scheme. When nil, a
	// config is assembled from CertFile/KeyFile/CAFile.
	TLSConfig *tls.Config

	// CertFile and KeyFile name a PEM client certificate and key for mutual
	// TLS. Both or neither must be set.
	CertFile string
	KeyFile  string

	// CAFile names a PEM bundle of additional trusted roots.
	CAFile string
}

const (
	defaultKeepAlive      = 60 * time.Second
	defaultSessionExpiry  = time.Hour
	defaultReceiveMaximum = math.MaxUint16
	defaultConnectTimeout = 30 * time.Second
)

// Validate checks the settings for values that cannot be expressed in an
// MQTT CONNECT packet or that contradict each other.
func (s *ConnectionSettings) Validate() error {
	if strings.TrimSpace(s.ServerURL) == "" {
		return &InvalidArgumentError{message: "ServerURL must be provided"}
	}
	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return &InvalidArgumentError{
			message: "unable to parse ServerURL",
			wrapped: err,
		}
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts":
	default:
		return &InvalidArgumentError{
			message: fmt.Sprintf("unsupported scheme %q in ServerURL", u.Scheme),
		}
	}
	if u.Hostname() == "" {
		return &InvalidArgumentError{message: "ServerURL must include a host"}
	}

	if s.KeepAlive < 0 || s.KeepAlive.Seconds() > math.MaxUint16 {
		return &InvalidArgumentError{
			message: "KeepAlive is outside of the valid MQTT range",
		}
	}
	if s.SessionExpiry < 0 || s.SessionExpiry.Seconds() > math.MaxUint32 {
		return &InvalidArgumentError{
			message: "SessionExpiry is outside of the valid MQTT range",
		}
	}
	if s.ConnectionTimeout < 0 {
		return &InvalidArgumentError{message: "negative ConnectionTimeout"}
	}
	if (s.CertFile == "") != (s.KeyFile == "") {
		return &InvalidArgumentError{
			message: "CertFile and KeyFile must be provided together",
		}
	}
	if len(s.Password) > 0 && s.PasswordFile != "" {
		return &InvalidArgumentError{
			message: "Password and PasswordFile are mutually exclusive",
		}
	}
	return nil
}

// provider resolves the settings into a ConnectionProvider for the dialing
// side of each connect attempt.
func (s *ConnectionSettings) provider() (ConnectionProvider, error) {
	u, err := url.Parse(s.ServerURL)
	if err != nil {
		return nil, &InvalidArgumentError{
			message: "unable to parse ServerURL",
			wrapped: err,
		}
	}

	host := u.Hostname()
	port := u.Port()

	switch u.Scheme {
	case "tcp", "mqtt":
		if port == "" {
			port = "1883"
		}
		return TCPConnection(net.JoinHostPort(host, port)), nil

	case "ssl", "tls", "mqtts":
		if port == "" {
			port = "8883"
		}
		return TLSConnection(net.JoinHostPort(host, port), s.tlsConfig), nil

	default:
		return nil, &InvalidArgumentError{
			message: fmt.Sprintf("unsupported scheme %q in ServerURL", u.Scheme),
		}
	}
}

// tlsConfig is a TLSConfigProvider assembling the TLS configuration from the
// settings on each connect attempt, so replaced certificate files take effect
// on the next reconnection.
func (s *ConnectionSettings) tlsConfig(ctx context.Context) (*tls.Config, error) {
	if s.TLSConfig != nil {
		return s.TLSConfig, nil
	}

	config := &tls.Config{MinVersion: tls.VersionTLS12}

	if s.CertFile != "" || s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "unable to load X509 key pair",
				wrapped: err,
			}
		}
		config.Certificates = []tls.Certificate{cert}
	}

	if s.CAFile != "" {
		pem, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "unable to read CA file",
				wrapped: err,
			}
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &InvalidArgumentError{
				message: "no certificates found in CA file",
			}
		}
		config.RootCAs = pool
	}

	return config, nil
}

// SettingsFromEnv assembles ConnectionSettings from MQTT_* environment
// variables: MQTT_HOST_NAME, MQTT_TCP_PORT, MQTT_USE_TLS, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD, MQTT_PASSWORD_FILE, MQTT_KEEP_ALIVE,
// MQTT_SESSION_EXPIRY, MQTT_CONNECTION_TIMEOUT, MQTT_CLEAN_START,
// MQTT_CERT_FILE, MQTT_KEY_FILE, and MQTT_CA_FILE. Durations use Go syntax
// such as "90s".
func SettingsFromEnv() (*ConnectionSettings, error) {
	values := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "MQTT_") {
			continue
		}
		key := strings.ToLower(
			strings.ReplaceAll(strings.TrimPrefix(k, "MQTT_"), "_", ""))
		values[key] = strings.TrimSpace(v)
	}
	return settingsFromMap(values)
}

// ParseConnectionString assembles ConnectionSettings from a semicolon
// delimited connection string such as
// "HostName=localhost;TcpPort=1883;UseTls=false;ClientId=app1".
func ParseConnectionString(connStr string) (*ConnectionSettings, error) {
	values := map[string]string{}
	for _, param := range strings.Split(strings.TrimSuffix(connStr, ";"), ";") {
		k, v, ok := strings.Cut(param, "=")
		if !ok {
			continue
		}
		values[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return settingsFromMap(values)
}

func settingsFromMap(values map[string]string) (*ConnectionSettings, error) {
	s := &ConnectionSettings{
		ClientID:     values["clientid"],
		Username:     values["username"],
		PasswordFile: values["passwordfile"],
		CertFile:     values["certfile"],
		KeyFile:      values["keyfile"],
		CAFile:       values["cafile"],
		CleanStart:   true,
	}
	if password := values["password"]; password != "" {
		s.Password = []byte(password)
	}

	hostname := values["hostname"]
	if hostname == "" {
		return nil, &InvalidArgumentError{message: "HostName must be provided"}
	}

	useTLS := true
	if v := values["usetls"]; v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "unable to parse UseTls as a boolean",
				wrapped: err,
			}
		}
		useTLS = parsed
	}

	scheme, port := "ssl", "8883"
	if !useTLS {
		scheme, port = "tcp", "1883"
	}
	if v := values["tcpport"]; v != "" {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return nil, &InvalidArgumentError{
				message: "unable to parse TcpPort as a port number",
				wrapped: err,
			}
		}
		port = v
	}
	s.ServerURL = scheme + "://" + net.JoinHostPort(hostname, port)

	if v := values["cleanstart"]; v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "unable to parse CleanStart as a boolean",
				wrapped: err,
			}
		}
		s.CleanStart = parsed
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"keepalive", &s.KeepAlive},
		{"sessionexpiry", &s.SessionExpiry},
		{"connectiontimeout", &s.ConnectionTimeout},
	}
	for _, d := range durations {
		v := values[d.key]
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: fmt.Sprintf("unable to parse %s as a duration", d.key),
				wrapped: err,
			}
		}
		*d.dest = parsed
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

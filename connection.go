package mqsession

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
)

// Connection is the capability set the session client requires from one
// underlying MQTT v5 connection: connect, publish, subscribe, unsubscribe,
// acknowledge, and authenticate. *paho.Client satisfies it; tests substitute
// stubs through the connection factory.
type Connection interface {
	Connect(ctx context.Context, packet *paho.Connect) (*paho.Connack, error)
	Disconnect(packet *paho.Disconnect) error
	Publish(ctx context.Context, packet *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, packet *paho.Subscribe) (*paho.Suback, error)
	Unsubscribe(ctx context.Context, packet *paho.Unsubscribe) (*paho.Unsuback, error)
	Ack(packet *paho.Publish) error
	Authenticate(ctx context.Context, packet *paho.Auth) (*paho.AuthResponse, error)
}

// ConnectionFactory builds a Connection from a fully populated Paho client
// config. The default factory wraps paho.NewClient.
type ConnectionFactory func(*paho.ClientConfig) Connection

func defaultConnectionFactory(config *paho.ClientConfig) Connection {
	return paho.NewClient(*config)
}

// ConnectionProvider opens the network connection for one connect attempt.
// The returned net.Conn must be safe for concurrent writes.
type ConnectionProvider func(context.Context) (net.Conn, error)

// TCPConnection returns a ConnectionProvider that dials the server over
// plain TCP.
func TCPConnection(address string) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TCP connection",
				wrapped: err,
			}
		}
		return conn, nil
	}
}

// TLSConfigProvider returns the TLS configuration for one connect attempt,
// allowing certificate rotation between connections.
type TLSConfigProvider func(context.Context) (*tls.Config, error)

// ConstantTLSConfig wraps an unchanging *tls.Config as a TLSConfigProvider.
func ConstantTLSConfig(config *tls.Config) TLSConfigProvider {
	return func(context.Context) (*tls.Config, error) {
		return config, nil
	}
}

// TLSConnection returns a ConnectionProvider that dials the server with TLS
// over TCP. A nil provider uses the zero TLS configuration.
func TLSConnection(address string, provider TLSConfigProvider) ConnectionProvider {
	return func(ctx context.Context) (net.Conn, error) {
		if provider == nil {
			provider = ConstantTLSConfig(nil)
		}

		config, err := provider(ctx)
		if err != nil {
			return nil, &ConnectionError{
				message: "error getting TLS configuration",
				wrapped: err,
			}
		}

		d := tls.Dialer{Config: config}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, &ConnectionError{
				message: "error opening TLS connection",
				wrapped: err,
			}
		}

		// tls.Conn writes are not atomic; Paho requires them to be.
		return packets.NewThreadSafeConn(conn), nil
	}
}

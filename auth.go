package mqsession

import (
	"context"
	"os"

	"github.com/eclipse/paho.golang/paho"
)

// AuthValues carries the method and data of one step of an MQTT v5 enhanced
// authentication exchange (the CONNECT packet and subsequent AUTH packets).
type AuthValues struct {
	Method string
	Data   []byte
}

// AuthProvider drives enhanced authentication. InitiateAuth supplies the
// values for the CONNECT packet of every connection, and for the AUTH packet
// starting a reauthentication on a live one. ContinueAuth is called when the
// server answers with reason code 0x18 (continue authentication) and returns
// the values for the next AUTH packet. AuthSuccess is called when an exchange
// concludes; the provided function may be retained and called at any later
// point to reauthenticate the live connection, e.g. when a token is about to
// expire.
type AuthProvider interface {
	InitiateAuth(reauthentication bool) (*AuthValues, error)
	ContinueAuth(values *AuthValues) (*AuthValues, error)
	AuthSuccess(reauthenticate func())
}

// FileAuth returns an AuthProvider for single-step token methods such as
// Kubernetes service account tokens. The file is re-read on every exchange,
// supporting rotated tokens.
func FileAuth(method, filename string) AuthProvider {
	return &fileAuth{method: method, filename: filename}
}

type fileAuth struct {
	method   string
	filename string
}

func (a *fileAuth) InitiateAuth(bool) (*AuthValues, error) {
	data, err := os.ReadFile(a.filename)
	if err != nil {
		return nil, err
	}
	return &AuthValues{Method: a.method, Data: data}, nil
}

func (a *fileAuth) ContinueAuth(*AuthValues) (*AuthValues, error) {
	return nil, &InvalidArgumentError{
		message: "unexpected authentication continuation",
	}
}

func (a *fileAuth) AuthSuccess(func()) {}

// Reauthenticate starts an enhanced authentication exchange on the live
// connection, sending the AUTH packet and leaving any continuation rounds to
// the configured AuthProvider. It fails when no provider is configured or
// the client is currently disconnected; AUTH packets cannot be queued across
// a reconnection.
func (c *SessionClient) Reauthenticate(ctx context.Context) error {
	if c.authProvider == nil {
		return &InvalidArgumentError{message: "no auth provider configured"}
	}
	if !c.started.Load() {
		return &ClientStateError{State: NotStarted}
	}

	values, err := c.authProvider.InitiateAuth(true)
	if err != nil {
		return &InvalidArgumentError{
			message: "error getting auth values",
			wrapped: err,
		}
	}

	current := c.conn.Current()
	if current.Client == nil {
		return &ConnectionError{message: "not connected"}
	}

	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()

	_, err = current.Client.Authenticate(ctx, &paho.Auth{
		ReasonCode: authReauthenticate,
		Properties: &paho.AuthProperties{
			AuthMethod: values.Method,
			AuthData:   values.Data,
		},
	})
	return err
}

// requestReauth is handed to the AuthProvider through AuthSuccess so it can
// trigger reauthentication without holding a client reference.
func (c *SessionClient) requestReauth() {
	go func() {
		ctx, cancel := c.shutdown.With(context.Background())
		defer cancel()
		if err := c.Reauthenticate(ctx); err != nil {
			c.logger.Error("reauthentication failed", "error", err)
		}
	}()
}

// pahoAuther adapts the AuthProvider to the callback interface the underlying
// connection invokes for server-initiated AUTH rounds.
type pahoAuther struct{ c *SessionClient }

func (a *pahoAuther) Authenticate(auth *paho.Auth) *paho.Auth {
	received := &AuthValues{}
	if auth.Properties != nil {
		received.Method = auth.Properties.AuthMethod
		received.Data = auth.Properties.AuthData
	}

	values, err := a.c.authProvider.ContinueAuth(received)
	if err != nil {
		a.c.logger.Error("continue authentication failed", "error", err)
		return &paho.Auth{ReasonCode: authContinueAuthentication}
	}
	return &paho.Auth{
		ReasonCode: authContinueAuthentication,
		Properties: &paho.AuthProperties{
			AuthMethod: values.Method,
			AuthData:   values.Data,
		},
	}
}

func (a *pahoAuther) Authenticated() {
	a.c.authProvider.AuthSuccess(a.c.requestReauth)
}

package mqsession_test

import (
	"errors"
	"testing"
	"time"

	"pkt.systems/mqsession"
)

func TestConnectionSettingsValidate(t *testing.T) {
	t.Parallel()

	valid := mqsession.ConnectionSettings{
		ServerURL: "tcp://localhost:1883",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	cases := []struct {
		name     string
		settings mqsession.ConnectionSettings
	}{
		{"missing URL", mqsession.ConnectionSettings{}},
		{"bad scheme", mqsession.ConnectionSettings{
			ServerURL: "http://localhost:1883",
		}},
		{"missing host", mqsession.ConnectionSettings{
			ServerURL: "tcp://",
		}},
		{"keepalive out of range", mqsession.ConnectionSettings{
			ServerURL: "tcp://localhost:1883",
			KeepAlive: 100000 * time.Second,
		}},
		{"cert without key", mqsession.ConnectionSettings{
			ServerURL: "tcp://localhost:1883",
			CertFile:  "client.crt",
		}},
		{"password and password file", mqsession.ConnectionSettings{
			ServerURL:    "tcp://localhost:1883",
			Password:     []byte("hunter2"),
			PasswordFile: "/etc/secret",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.settings.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var invalid *mqsession.InvalidArgumentError
			if !errors.As(err, &invalid) {
				t.Fatalf("error type = %T, want *InvalidArgumentError", err)
			}
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	t.Parallel()

	settings, err := mqsession.ParseConnectionString(
		"HostName=broker.example;TcpPort=8884;UseTls=true;" +
			"ClientId=app1;Username=alice;KeepAlive=90s;CleanStart=false;")
	if err != nil {
		t.Fatal(err)
	}

	if settings.ServerURL != "ssl://broker.example:8884" {
		t.Errorf("ServerURL = %q", settings.ServerURL)
	}
	if settings.ClientID != "app1" {
		t.Errorf("ClientID = %q", settings.ClientID)
	}
	if settings.Username != "alice" {
		t.Errorf("Username = %q", settings.Username)
	}
	if settings.KeepAlive != 90*time.Second {
		t.Errorf("KeepAlive = %v", settings.KeepAlive)
	}
	if settings.CleanStart {
		t.Error("CleanStart = true, want false")
	}
}

func TestParseConnectionStringDefaults(t *testing.T) {
	t.Parallel()

	settings, err := mqsession.ParseConnectionString("HostName=localhost")
	if err != nil {
		t.Fatal(err)
	}

	// TLS is the default, as is its well-known port.
	if settings.ServerURL != "ssl://localhost:8883" {
		t.Errorf("ServerURL = %q", settings.ServerURL)
	}
	if !settings.CleanStart {
		t.Error("CleanStart = false, want true")
	}
}

func TestParseConnectionStringRequiresHost(t *testing.T) {
	t.Parallel()

	if _, err := mqsession.ParseConnectionString("TcpPort=1883"); err == nil {
		t.Fatal("missing HostName accepted")
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("MQTT_HOST_NAME", "envhost")
	t.Setenv("MQTT_USE_TLS", "false")
	t.Setenv("MQTT_TCP_PORT", "11883")
	t.Setenv("MQTT_CLIENT_ID", "env-client")
	t.Setenv("MQTT_SESSION_EXPIRY", "2h")

	settings, err := mqsession.SettingsFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	if settings.ServerURL != "tcp://envhost:11883" {
		t.Errorf("ServerURL = %q", settings.ServerURL)
	}
	if settings.ClientID != "env-client" {
		t.Errorf("ClientID = %q", settings.ClientID)
	}
	if settings.SessionExpiry != 2*time.Hour {
		t.Errorf("SessionExpiry = %v", settings.SessionExpiry)
	}
}

package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*ServerOptions)(nil)

// ServerOptions contains configuration for the WebSocket control server.
type ServerOptions struct {
	// Addr is the listen address for the WebSocket endpoint.
	Addr string `json:"addr" mapstructure:"addr"`

	// Path is the WebSocket endpoint path.
	Path string `json:"path" mapstructure:"path"`

	// AuthToken is the shared secret sessions must present before gated
	// commands are accepted.
	AuthToken string `json:"auth-token" mapstructure:"auth-token"`

	// HeartbeatInterval is the cadence of the unsolicited heartbeat
	// broadcast to authenticated sessions.
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`

	// WriteTimeout bounds every write to a session.
	WriteTimeout time.Duration `json:"write-timeout" mapstructure:"write-timeout"`
}

// NewServerOptions creates ServerOptions with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		Addr:              "0.0.0.0:8765",
		Path:              "/ws",
		HeartbeatInterval: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *ServerOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.AuthToken == "" {
		errors = append(errors, fmt.Errorf("server auth-token is required"))
	}
	if o.HeartbeatInterval <= 0 {
		errors = append(errors, fmt.Errorf("heartbeat-interval must be positive, got %s", o.HeartbeatInterval))
	}

	return errors
}

// AddFlags adds flags for ServerOptions to the specified FlagSet.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "server.addr", o.Addr, "The WebSocket server bind address and port.")
	fs.StringVar(&o.Path, "server.path", o.Path, "The WebSocket endpoint path.")
	fs.StringVar(&o.AuthToken, "server.auth-token", o.AuthToken, "Shared secret required to authenticate a session.")
	fs.DurationVar(&o.HeartbeatInterval, "server.heartbeat-interval", o.HeartbeatInterval, "Interval between heartbeat broadcasts to authenticated sessions.")
	fs.DurationVar(&o.WriteTimeout, "server.write-timeout", o.WriteTimeout, "Timeout for writing a message to a session.")
}

// Package gateway assembles the device link, the session layer and the
// supporting servers into one runnable unit.
package gateway

import (
	"os"

	"github.com/drivegate-io/drivegate/pkg/options"
)

// Config aggregates the resolved option groups for one gateway process.
type Config struct {
	Serial   *options.SerialOptions
	Server   *options.ServerOptions
	Failsafe *options.FailsafeOptions
	Http     *options.HttpOptions
	Mqtt     *options.MqttOptions
}

// GatewayID identifies this gateway in telemetry topics. The MQTT client
// id wins when set; otherwise the hostname serves.
func (c *Config) GatewayID() string {
	if c.Mqtt != nil && c.Mqtt.ClientID != "" {
		return c.Mqtt.ClientID
	}
	host, err := os.Hostname()
	if err != nil {
		return "dgate"
	}
	return host
}

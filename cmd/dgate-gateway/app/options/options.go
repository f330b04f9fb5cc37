package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/drivegate-io/drivegate/internal/gateway"
	"github.com/drivegate-io/drivegate/pkg/app"
	"github.com/drivegate-io/drivegate/pkg/log"
	"github.com/drivegate-io/drivegate/pkg/options"
)

// GatewayOptions is the full option surface of dgate-gateway.
type GatewayOptions struct {
	Serial   *options.SerialOptions   `json:"serial" mapstructure:"serial"`
	Server   *options.ServerOptions   `json:"server" mapstructure:"server"`
	Failsafe *options.FailsafeOptions `json:"failsafe" mapstructure:"failsafe"`
	Http     *options.HttpOptions     `json:"http" mapstructure:"http"`
	Mqtt     *options.MqttOptions     `json:"mqtt" mapstructure:"mqtt"`
	Log      *log.Options             `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*GatewayOptions)(nil)

func NewGatewayOptions() *GatewayOptions {
	return &GatewayOptions{
		Serial:   options.NewSerialOptions(),
		Server:   options.NewServerOptions(),
		Failsafe: options.NewFailsafeOptions(),
		Http:     options.NewHttpOptions(),
		Mqtt:     options.NewMqttOptions(),
		Log:      log.NewOptions(),
	}
}

func (o *GatewayOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.Serial.AddFlags(fss.FlagSet("serial"))
	o.Server.AddFlags(fss.FlagSet("server"))
	o.Failsafe.AddFlags(fss.FlagSet("failsafe"))
	o.Http.AddFlags(fss.FlagSet("http"))
	o.Mqtt.AddFlags(fss.FlagSet("mqtt"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *GatewayOptions) Complete() error {
	return nil
}

func (o *GatewayOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.Serial.Validate()...)
	errs = append(errs, o.Server.Validate()...)
	errs = append(errs, o.Failsafe.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Mqtt.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

// Config assembles the gateway configuration from the validated options.
func (o *GatewayOptions) Config() (*gateway.Config, error) {
	return &gateway.Config{
		Serial:   o.Serial,
		Server:   o.Server,
		Failsafe: o.Failsafe,
		Http:     o.Http,
		Mqtt:     o.Mqtt,
	}, nil
}

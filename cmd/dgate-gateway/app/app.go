package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/drivegate-io/drivegate/cmd/dgate-gateway/app/options"
	"github.com/drivegate-io/drivegate/internal/gateway"
	"github.com/drivegate-io/drivegate/pkg/app"
	"github.com/drivegate-io/drivegate/pkg/log"
)

const (
	commandName = "dgate-gateway"
	commandDesc = `The Drivegate gateway bridges WebSocket control sessions to a single
serial-attached actuator controller. It arbitrates exclusive access to
the device across concurrent sessions, reconnects after transport
failures, and forces a stop when command flow ceases.`
)

func NewApp() *app.App {
	opts := options.NewGatewayOptions()
	application := app.NewApp(
		commandName,
		"Launch the Drivegate actuator gateway",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.GatewayOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		return gateway.New(cfg).Run(ctx)
	}
}

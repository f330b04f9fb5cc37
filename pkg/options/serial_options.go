package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SerialOptions)(nil)

// SerialOptions contains configuration for the serial link to the
// actuator controller.
type SerialOptions struct {
	// Device is the serial device node (e.g. /dev/ttyACM0, COM3).
	Device string `json:"device" mapstructure:"device"`

	// Baud is the line speed. The controller firmware runs at 9600.
	Baud int `json:"baud" mapstructure:"baud"`

	// Timeout bounds every single read and write on the wire.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// SettleDelay is how long the controller takes to reset after the
	// port opens. Opening the port toggles DTR, which reboots the board.
	SettleDelay time.Duration `json:"settle-delay" mapstructure:"settle-delay"`

	// ReconnectDelay is the pause between background reconnect attempts.
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`

	// MaxReconnectAttempts bounds the background reconnect loop.
	MaxReconnectAttempts int `json:"max-reconnect-attempts" mapstructure:"max-reconnect-attempts"`

	// WatchHotplug enables an fsnotify watch on the device directory so a
	// replugged controller triggers an immediate connect attempt.
	WatchHotplug bool `json:"watch-hotplug" mapstructure:"watch-hotplug"`
}

// NewSerialOptions creates SerialOptions with defaults matching the
// reference controller wiring.
func NewSerialOptions() *SerialOptions {
	return &SerialOptions{
		Device:               "/dev/ttyACM0",
		Baud:                 9600,
		Timeout:              time.Second,
		SettleDelay:          2 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		WatchHotplug:         true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SerialOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Device == "" {
		errors = append(errors, fmt.Errorf("serial device is required"))
	}
	if o.Baud <= 0 {
		errors = append(errors, fmt.Errorf("serial baud must be positive, got %d", o.Baud))
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("serial timeout must be positive, got %s", o.Timeout))
	}
	if o.MaxReconnectAttempts < 0 {
		errors = append(errors, fmt.Errorf("max-reconnect-attempts must not be negative, got %d", o.MaxReconnectAttempts))
	}

	return errors
}

// AddFlags adds flags for SerialOptions to the specified FlagSet.
func (o *SerialOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Device, "serial.device", o.Device, "The serial device node of the actuator controller.")
	fs.IntVar(&o.Baud, "serial.baud", o.Baud, "The serial line speed in baud.")
	fs.DurationVar(&o.Timeout, "serial.timeout", o.Timeout, "Timeout for each serial read and write.")
	fs.DurationVar(&o.SettleDelay, "serial.settle-delay", o.SettleDelay, "Delay after opening the port while the controller resets.")
	fs.DurationVar(&o.ReconnectDelay, "serial.reconnect-delay", o.ReconnectDelay, "Delay between background reconnect attempts.")
	fs.IntVar(&o.MaxReconnectAttempts, "serial.max-reconnect-attempts", o.MaxReconnectAttempts, "Maximum consecutive background reconnect attempts before giving up.")
	fs.BoolVar(&o.WatchHotplug, "serial.watch-hotplug", o.WatchHotplug, "Watch the device directory and reconnect when the node reappears.")
}

package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FailsafeOptions)(nil)

// FailsafeOptions contains configuration for the command-inactivity
// watchdog that stops the actuator when traffic ceases.
type FailsafeOptions struct {
	// Timeout is how long the link may go without an attempted command
	// before the watchdog forces a stop.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Period is the watchdog tick interval. Must be shorter than Timeout
	// or the stop deadline cannot be honored.
	Period time.Duration `json:"period" mapstructure:"period"`
}

// NewFailsafeOptions creates FailsafeOptions with default values.
func NewFailsafeOptions() *FailsafeOptions {
	return &FailsafeOptions{
		Timeout: 2 * time.Second,
		Period:  500 * time.Millisecond,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *FailsafeOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("failsafe timeout must be positive, got %s", o.Timeout))
	}
	if o.Period <= 0 {
		errors = append(errors, fmt.Errorf("failsafe period must be positive, got %s", o.Period))
	}
	if o.Period >= o.Timeout && o.Timeout > 0 {
		errors = append(errors, fmt.Errorf("failsafe period %s must be shorter than timeout %s", o.Period, o.Timeout))
	}

	return errors
}

// AddFlags adds flags for FailsafeOptions to the specified FlagSet.
func (o *FailsafeOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Timeout, "failsafe.timeout", o.Timeout, "Command inactivity deadline after which the actuator is stopped.")
	fs.DurationVar(&o.Period, "failsafe.period", o.Period, "Watchdog tick interval.")
}

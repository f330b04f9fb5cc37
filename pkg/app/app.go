// Package app provides the scaffolding shared by all Drivegate binaries:
// a cobra command wired to grouped pflag option sets, viper config-file
// and environment binding, and uniform validation.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/drivegate-io/drivegate/pkg/log"
)

// RunFunc is the application's run callback.
type RunFunc func() error

// NamedFlagSetOptions abstracts an application's full option surface.
type NamedFlagSetOptions interface {
	// Flags returns the flags grouped by section.
	Flags() cliflag.NamedFlagSets

	// Complete fills in any fields derived from other options.
	Complete() error

	// Validate checks the complete option set.
	Validate() error
}

// App is a single command-line application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	noConfig    bool
	args        cobra.PositionalArgs

	cmd *cobra.Command
}

// Option configures an App during construction.
type Option func(*App)

// WithDescription sets the long description shown in help output.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithOptions binds the application's option groups.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the application run callback.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDefaultValidArgs rejects any positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = cobra.NoArgs
	}
}

// WithNoConfig disables the --config flag and config-file loading.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// NewApp creates an App with the given name, short description and options.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
		RunE:          a.runCommand,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	var namedfs cliflag.NamedFlagSets
	if a.options != nil {
		namedfs = a.options.Flags()
	}
	globalflag.AddGlobalFlags(namedfs.FlagSet("global"), cmd.Name())
	if !a.noConfig {
		addConfigFlag(namedfs.FlagSet("global"))
	}
	for _, fs := range namedfs.FlagSets {
		cmd.Flags().AddFlagSet(fs)
	}

	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if !a.noConfig {
		if err := loadConfig(cmd.Flags(), a.name); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.runFunc != nil {
		return a.runFunc()
	}
	return nil
}

// Command returns the underlying cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the application and exits non-zero on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		log.Error(err, "Application run failed", "app", a.name)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

const configFlagName = "config"

func addConfigFlag(fs *pflag.FlagSet) {
	fs.StringP(configFlagName, "c", "", "Path to the configuration file.")
}

// loadConfig reads the config file (when given) and the environment into
// viper, then pushes values into any flag the user did not set explicitly.
func loadConfig(fs *pflag.FlagSet, name string) error {
	v := viper.New()

	if cfgFile, _ := fs.GetString(configFlagName); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(name), "-", "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == configFlagName {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
			return
		}
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil && bindErr == nil {
				bindErr = err
			}
		}
	})

	return bindErr
}

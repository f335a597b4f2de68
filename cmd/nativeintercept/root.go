package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/daimatz/nativeintercept/pkg/config"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "nativeintercept",
		Short: "Redirect native method calls of JVM classes to Go handlers",
		Long: `nativeintercept rewrites class files in two stages. The wrapping stage
renames every native method and puts a forwarder with the original name in
its place; the intercepting stage points the forwarder at a dispatcher that
calls a registered handler instead of the native code.

Examples:
  nativeintercept run --intercept com/acme/Native build/Main.class
  nativeintercept wrap Native.class -o Native.wrapped.class
  nativeintercept inspect Native.wrapped.class`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newRunCmd(opts), newWrapCmd(), newInspectCmd())
	return cmd
}

// loadConfig returns the configuration named by --config, or the defaults.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(o.configPath)
}

func (o *rootOptions) newLogger(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if o.debug {
		lvl = zapcore.DebugLevel
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

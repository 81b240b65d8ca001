// Package cli holds the perfsandbox command tree.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/raysh454/perfsandbox/internal/app"
	"github.com/raysh454/perfsandbox/internal/logging"
)

var (
	errUsage = errors.New("usage")

	// errRunFailed marks a run that ended with a run-error event. The event
	// itself was already printed.
	errRunFailed = errors.New("run failed")
)

// Execute runs the command tree against os.Args and returns the process
// exit code.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr)
}

func run(args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	root := newRootCmd(app.NewViper())
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		switch {
		case errors.Is(err, errUsage):
			return 2
		case errors.Is(err, errRunFailed):
			return 1
		}
		fmt.Fprintln(stderr, "ERROR:", err)
		return 1
	}
	return 0
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "perfsandbox",
		Short:         "Run performance-audit tools against a URL and collect one report",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return nil
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", configFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return errUsage
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (keys as in the PERFSANDBOX_* environment)")
	root.PersistentFlags().String("log-level", v.GetString("LOG_LEVEL"), "debug, info, warn or error")
	mustBind(v, "LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(v), newRunCmd(), newToolsCmd(v))
	return root
}

func loadConfig(v *viper.Viper) (*app.Config, logging.Logger, error) {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewZapLogger(cfg.LogLevel, "perfsandbox")
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}

// mustBind ties a flag to a viper key. A failure is a programming error.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Errorf("bind flag %s: %w", key, err))
	}
}

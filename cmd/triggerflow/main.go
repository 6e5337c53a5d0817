package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries the loaded configuration into every subcommand.
type cli struct {
	v   *viper.Viper
	cfg Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: newViper()}

	root := &cobra.Command{
		Use:               "triggerflow",
		Short:             "Run form and table triggered workflows",
		SilenceUsage:      true,
		PersistentPreRunE: c.setupConfig,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to config file (default ~/.triggerflow/config.yaml)")
	flags.String("db-path", "", "libSQL database path")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("owner", "", "owner identity that scopes every command")

	for key, flag := range map[string]string{
		"db_path":    "db-path",
		"log.level":  "log-level",
		"log.format": "log-format",
		"owner":      "owner",
	} {
		if err := c.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		newVersionCmd(),
		newImportCmd(c),
		newRunCmd(c),
		newDispatchCmd(c),
		newServeCmd(c),
	)
	return root
}

func (c *cli) setupConfig(cmd *cobra.Command, _ []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	c.cfg, err = loadConfig(c.v, configFile)
	return err
}

// owner returns the --owner flag (or TRIGGERFLOW_OWNER), required by most commands.
func (c *cli) owner() (string, error) {
	owner := c.v.GetString("owner")
	if owner == "" {
		return "", fmt.Errorf("--owner is required")
	}
	return owner, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

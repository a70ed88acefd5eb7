package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires the subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	stopFlags := &StopFlags{}
	startFlags := &StartFlags{}
	frontendFlags := &FrontendFlags{}

	c := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createStartCommand(c, startFlags),
		createStopCommand(c, stopFlags),
		createStatusCommand(c),
		createOpenCommand(c),
		createFrontendCommand(c, frontendFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:           "stackctl",
		Short:         "Lifecycle supervisor for the backend/frontend service pair",
		Long:          "stackctl starts, stops and inspects the two-service application stack.\nGraceful stop asks the backend to persist its state before termination,\nwatching the backend log for completion with a bounded wait.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().IntVar(&flags.BackendPort, "backend-port", 0, "override backend port")
	root.PersistentFlags().IntVar(&flags.FrontendPort, "frontend-port", 0, "override frontend port")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	return root
}

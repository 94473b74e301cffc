// Package cmd assembles the npcctl root command, grounded on the teacher's
// NewDefaultEchoCtlCommand/NewEchoCtlCommand shape (internal/echoctl/cmd/
// cmd.go): persistent flags bound into viper, cobra.OnInitialize loading an
// optional config file, and one subcommand package per concern.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	npcconfig "github.com/kiosk404/npcmaker/internal/config"
	cmdcontroller "github.com/kiosk404/npcmaker/internal/npcctl/cmd/controller"
	cmdenvironment "github.com/kiosk404/npcmaker/internal/npcctl/cmd/environment"
	cmdpopulation "github.com/kiosk404/npcmaker/internal/npcctl/cmd/population"
	cmdrun "github.com/kiosk404/npcmaker/internal/npcctl/cmd/run"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// NewDefaultNpcCtlCommand creates the npcctl command wired to the process's
// real stdio.
func NewDefaultNpcCtlCommand() *cobra.Command {
	return NewNpcCtlCommand(os.Stdin, os.Stdout, os.Stderr)
}

// NewNpcCtlCommand builds the npcctl command tree against the given
// streams, so tests (and embedders) can capture output instead of writing
// to the real terminal.
func NewNpcCtlCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "npcctl",
		Short: "npcctl runs and inspects an evolutionary-agent population",
		Long: heredoc.Doc(`
			npcctl drives the evolution loop for an environment/controller pair,
			and inspects the resulting population: its current members, its
			leaderboard, and its hall of fame.
		`),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			if err := npcconfig.LoadFile(viper.GetViper(), configPath, nil); err != nil {
				return fmt.Errorf("npcctl: %w", err)
			}
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to an npcmaker config file (YAML/JSON/TOML).")

	opts := npcconfig.NewOptions()
	fss := opts.Flags()
	for _, name := range fss.Order {
		root.PersistentFlags().AddFlagSet(fss.FlagSets[name])
	}
	if err := viper.BindPFlags(root.PersistentFlags()); err != nil {
		logger.Error("npcctl: bind flags: %v", err)
	}

	cobra.OnInitialize(func() {
		if err := viper.Unmarshal(opts); err != nil {
			logger.Error("npcctl: unmarshal config: %v", err)
		}
	})

	root.AddCommand(cmdrun.NewCmdRun(opts))
	root.AddCommand(cmdpopulation.NewCmdPopulation(opts))
	root.AddCommand(cmdcontroller.NewCmdController())
	root.AddCommand(cmdenvironment.NewCmdEnvironment(opts))

	return root
}

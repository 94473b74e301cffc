// Package population implements npcctl's "population" subcommand: read-only
// inspection of a population directory's members, leaderboard, and hall of
// fame, rendered as aligned terminal tables.
package population

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/mitchellh/go-wordwrap"
	"github.com/moby/term"
	"github.com/spf13/cobra"

	"github.com/kiosk404/npcmaker/internal/config"
	"github.com/kiosk404/npcmaker/internal/individual"
	"github.com/kiosk404/npcmaker/internal/population"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// closeIndex closes pop's attached index, if any, logging rather than
// failing the command on error: a close failure shouldn't hide output
// that's already been rendered.
func closeIndex(pop *population.Population) {
	if err := pop.CloseIndex(); err != nil {
		logger.Warn("population: close index: %v", err)
	}
}

// NewCmdPopulation builds the "population" command and its ls/leaderboard/
// hall-of-fame/inspect children, all opening the population directory
// read-only off the shared Options.
func NewCmdPopulation(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "population",
		Aliases: []string{"pop"},
		Short:   "Inspect a population's members, leaderboard, and hall of fame",
	}
	cmd.AddCommand(newCmdList(opts))
	cmd.AddCommand(newCmdLeaderboard(opts))
	cmd.AddCommand(newCmdHallOfFame(opts))
	cmd.AddCommand(newCmdInspect(opts))
	return cmd
}

func openPopulation(opts *config.Options) (*population.Population, error) {
	replacement, err := config.ParseReplacement(opts.Population.Replacement)
	if err != nil {
		return nil, err
	}
	pop, err := population.New(opts.Population.Dir, replacement, opts.Population.Size, opts.Population.LeaderboardSize, opts.Population.HallOfFameSize, nil)
	if err != nil {
		return nil, err
	}
	if opts.Population.IndexPath != "" {
		if err := pop.OpenIndex(opts.Population.IndexPath); err != nil {
			return nil, err
		}
	}
	return pop, nil
}

func newCmdList(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"members", "list"},
		Short:   "List the current population members",
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := openPopulation(opts)
			if err != nil {
				return err
			}
			defer closeIndex(pop)
			return renderStubs(cmd.OutOrStdout(), pop.Members())
		},
	}
}

func newCmdLeaderboard(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the leaderboard, best score first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := openPopulation(opts)
			if err != nil {
				return err
			}
			defer closeIndex(pop)
			return renderStubs(cmd.OutOrStdout(), pop.Leaderboard())
		},
	}
}

func newCmdHallOfFame(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:     "hall-of-fame",
		Aliases: []string{"hof"},
		Short:   "Show the hall of fame, oldest induction first",
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := openPopulation(opts)
			if err != nil {
				return err
			}
			defer closeIndex(pop)
			return renderStubs(cmd.OutOrStdout(), pop.HallOfFame())
		},
	}
}

func newCmdInspect(opts *config.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <name>",
		Short: "Show full lineage and telemetry detail for one individual",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pop, err := openPopulation(opts)
			if err != nil {
				return err
			}
			defer closeIndex(pop)
			stub, ok := findStub(pop, args[0])
			if !ok {
				return fmt.Errorf("population: no individual named %q", args[0])
			}
			ind, err := stub.Load()
			if err != nil {
				return err
			}
			return renderDetail(cmd.OutOrStdout(), ind)
		},
	}
}

func findStub(pop *population.Population, name string) (*population.Stub, bool) {
	stub, ok := pop.Lookup(name)
	if !ok {
		return nil, false
	}
	return &stub, true
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// termWidth reports the current terminal's column width, falling back to
// 80 when stdout isn't a terminal (piped output, tests).
func termWidth() uint {
	ws, err := term.GetWinsize(os.Stdout.Fd())
	if err != nil || ws.Width == 0 {
		return 80
	}
	return uint(ws.Width)
}

// renderStubs prints one row per stub: name, score, and ascension, color
// coding the score by rough quality.
func renderStubs(w io.Writer, stubs []population.Stub) error {
	table := uitable.New()
	table.MaxColWidth = termWidth()
	table.Wrap = true
	table.AddRow("NAME", "SCORE", "ASCENSION")
	for _, s := range stubs {
		table.AddRow(baseNameNoSuffix(s.Path), scoreString(s.Score), s.Ascension)
	}
	_, err := fmt.Fprintln(w, table)
	return err
}

func scoreString(score float64) string {
	text := fmt.Sprintf("%.4f", score)
	switch {
	case score > 0:
		return color.GreenString(text)
	case score < 0:
		return color.RedString(text)
	default:
		return text
	}
}

func baseNameNoSuffix(path string) string {
	name := baseName(path)
	return name[:len(name)-len(".indiv")]
}

// renderDetail prints one individual's full lineage and telemetry record,
// wrapping long fields (descriptions, telemetry values) to the terminal
// width.
func renderDetail(w io.Writer, ind *individual.Individual) error {
	table := uitable.New()
	table.Wrap = true
	table.MaxColWidth = termWidth()

	table.AddRow("Name:", ind.Name)
	table.AddRow("Population:", ind.Population)
	table.AddRow("Generation:", ind.Generation)
	table.AddRow("Score:", scoreString(ind.ScoreValue()))
	table.AddRow("Parents:", wordwrap.WrapString(fmt.Sprint(ind.Parents), termWidth()))
	table.AddRow("Children:", wordwrap.WrapString(fmt.Sprint(ind.Children), termWidth()))
	table.AddRow("Born:", ind.BirthDate)
	table.AddRow("Died:", ind.DeathDate)
	for k, v := range ind.Telemetry {
		table.AddRow("Telemetry "+k+":", wordwrap.WrapString(fmt.Sprint(v), termWidth()))
	}
	_, err := fmt.Fprintln(w, table)
	return err
}

// Package controller implements npcctl's "controller" subcommand: a minimal
// reference controller program, usable as a real subprocess in manual and
// automated protocol round-trip testing, built directly on
// internal/ctrlserver.
package controller

import (
	"math"

	"github.com/spf13/cobra"

	"github.com/kiosk404/npcmaker/internal/ctrlserver"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// NewCmdController builds the "controller" command and its "serve" child.
func NewCmdController() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run a reference controller subprocess",
	}
	cmd.AddCommand(newCmdServe())
	return cmd
}

func newCmdServe() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Speak the controller protocol over stdin/stdout until EOF",
		Long: `serve runs a trivial echo controller: every input GIN value is copied
verbatim to the output GIN of the same number. It has no genome-dependent
behavior; it exists to exercise the controller wire protocol end to end,
not as an example of a real agent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctrlserver.ServeStdio(newEchoController())
		},
	}
}

// echoController mirrors every input it's given back out on the matching
// output GIN (an input never set reads back as ""); Advance only adds dt to
// an internal tick counter. It embeds ctrlserver.Base so it need not implement SetBinary/Save/Load/
// Custom itself.
type echoController struct {
	ctrlserver.Base

	environment string
	population  string
	genome      []byte
	inputs      map[uint64]string
	tick        float64
}

func newEchoController() *echoController {
	return &echoController{inputs: make(map[uint64]string)}
}

func (c *echoController) Bind(environment, population string) error {
	c.environment = environment
	c.population = population
	logger.WithField("controller", "echo").Info("bound to %s/%s", environment, population)
	return nil
}

func (c *echoController) LoadGenome(genome []byte) error {
	c.genome = genome
	c.inputs = make(map[uint64]string)
	c.tick = 0
	return nil
}

func (c *echoController) Reset() error {
	c.inputs = make(map[uint64]string)
	c.tick = 0
	return nil
}

func (c *echoController) Advance(dt float64) error {
	c.tick += dt
	return nil
}

func (c *echoController) SetInput(gin uint64, value string) error {
	c.inputs[gin] = value
	return nil
}

func (c *echoController) GetOutput(gin uint64) (string, error) {
	if v, ok := c.inputs[gin]; ok {
		return v, nil
	}
	return "", nil
}

func (c *echoController) Quit() {
	logger.WithField("controller", "echo").Info("quit after %.0f ticks", math.Round(c.tick))
}

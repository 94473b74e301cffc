// Package environment implements npcctl's "environment" subcommand: a
// minimal reference environment program, usable as a real subprocess in
// manual and automated protocol round-trip testing, built directly on
// internal/envserver for the driver-facing side of the protocol and
// internal/controller for the controller subprocess it spawns per
// individual.
package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiosk404/npcmaker/internal/config"
	"github.com/kiosk404/npcmaker/internal/controller"
	"github.com/kiosk404/npcmaker/internal/envserver"
	"github.com/kiosk404/npcmaker/internal/wire/env"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// defaultIndividuals is how many Spawn/Birth/Death cycles the reference
// environment runs through before requesting Stop's own exit, when
// --individuals isn't given.
const defaultIndividuals = 3

// NewCmdEnvironment builds the "environment" command and its "serve" child.
func NewCmdEnvironment(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "environment",
		Short: "Run a reference environment subprocess",
	}
	cmd.AddCommand(newCmdServe(opts))
	return cmd
}

func newCmdServe(opts *config.Options) *cobra.Command {
	individuals := defaultIndividuals

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Speak the environment protocol over stdin/stdout, spawning a controller per individual",
		Long: `serve runs a trivial reference environment: it requests one individual at
a time from the driver, spawns a fresh controller subprocess (named by
--driver.controller) to embody it, drives that controller through a
LoadGenome/Reset/Advance/SetInput/GetOutputs cycle, reports a constant score,
and reports Death. It repeats this --individuals times and then acknowledges
Stop. It has no genome-dependent behavior; it exists to exercise the
environment and controller wire protocols end to end, not as an example of a
real simulation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Driver.ControllerPath == "" {
				return fmt.Errorf("environment: --driver.controller is required")
			}
			s, err := envserver.NewStdio()
			if err != nil {
				return fmt.Errorf("environment: %w", err)
			}
			e := newEchoEnvironment(s, opts.Driver.ControllerPath, clampIndividuals(individuals))
			return e.run(cmd.Context())
		},
	}
	cmd.Flags().IntVar(&individuals, "individuals", defaultIndividuals, "Number of Spawn/Birth/Death cycles to run before acknowledging Stop.")
	return cmd
}

// clampIndividuals rejects a non-positive cycle count in favor of the
// default, rather than looping forever or not at all.
func clampIndividuals(n int) int {
	if n <= 0 {
		return defaultIndividuals
	}
	return n
}

// population is the sole body type the reference environment advertises.
const population = "reference"

// echoEnvironment is the driver-facing side of the reference environment: it
// answers Spawn with a freshly spawned controller subprocess, walks it
// through one short simulated lifetime, and reports Score/Death.
type echoEnvironment struct {
	s              *envserver.Server
	controllerPath string
	remaining      int
}

func newEchoEnvironment(s *envserver.Server, controllerPath string, individuals int) *echoEnvironment {
	return &echoEnvironment{s: s, controllerPath: controllerPath, remaining: individuals}
}

// run polls the driver for requests until Stop is acknowledged or the
// driver's stdin closes.
func (e *echoEnvironment) run(ctx context.Context) error {
	for {
		req, err := e.s.Poll()
		if err == envserver.ErrWouldBlock {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			return fmt.Errorf("environment: poll: %w", err)
		}

		switch req.Kind {
		case env.RequestStart:
			if err := e.s.Ack(req); err != nil {
				return err
			}
			if err := e.requestNext(); err != nil {
				return err
			}
		case env.RequestStop:
			return e.s.Ack(req)
		case env.RequestBirth:
			if err := e.embody(ctx, req); err != nil {
				logger.WithField("environment", "echo").Error("embody %s: %v", req.BirthName, err)
			}
		default:
			if err := e.s.Ack(req); err != nil {
				return err
			}
		}
	}
}

// requestNext asks the driver for one more individual, or stays silent once
// the cycle budget is spent (Stop is expected shortly after).
func (e *echoEnvironment) requestNext() error {
	if e.remaining <= 0 {
		return nil
	}
	e.remaining--
	return e.s.Spawn(population)
}

// embody spawns a controller subprocess for one delivered individual, drives
// it through a short simulated lifetime, and reports its score and death
// before asking for a replacement.
func (e *echoEnvironment) embody(ctx context.Context, req env.Request) error {
	sink := func(line string) {
		logger.WithField("source", "controller").WithField("individual", req.BirthName).Info(line)
	}
	h, err := controller.Spawn(ctx, e.controllerPath, nil, population, req.BirthPopulation, sink)
	if err != nil {
		return fmt.Errorf("spawn controller: %w", err)
	}
	defer func() {
		if err := h.Close(); err != nil {
			logger.WithField("environment", "echo").Warn("close controller: %v", err)
			return
		}
		if err := h.Wait(); err != nil {
			logger.WithField("environment", "echo").Warn("controller exited: %v", err)
		}
	}()

	if err := h.LoadGenome(req.Genome); err != nil {
		return fmt.Errorf("load genome: %w", err)
	}
	if err := h.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := h.SetInput(0, "1"); err != nil {
		return fmt.Errorf("set input: %w", err)
	}
	if err := h.Advance(1.0); err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if _, err := h.GetOutputs([]uint64{0}); err != nil {
		return fmt.Errorf("get outputs: %w", err)
	}

	if err := e.s.Score(req.BirthName, "1"); err != nil {
		return fmt.Errorf("report score: %w", err)
	}
	if err := e.s.Death(req.BirthName); err != nil {
		return fmt.Errorf("report death: %w", err)
	}
	return e.requestNext()
}

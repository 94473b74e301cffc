// Package run implements npcctl's "run" subcommand: the evolution driver
// loop that owns an environment subprocess, fulfills its Spawn/Mate
// requests from the population's parent-selection buffer, and folds every
// Death it reports back into the population manager.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kiosk404/npcmaker/internal/config"
	"github.com/kiosk404/npcmaker/internal/dashboard"
	"github.com/kiosk404/npcmaker/internal/envspec"
	"github.com/kiosk404/npcmaker/internal/environment"
	"github.com/kiosk404/npcmaker/internal/individual"
	"github.com/kiosk404/npcmaker/internal/population"
	"github.com/kiosk404/npcmaker/internal/selection"
	"github.com/kiosk404/npcmaker/internal/wire/env"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// NewCmdRun builds the "run" subcommand around the shared Options, so its
// flags are the same driver./population./dashboard./log. groups the root
// command already registered.
func NewCmdRun(opts *config.Options) *cobra.Command {
	var graphical bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the evolution loop for an environment/controller pair",
		Long: `Spawns the environment subprocess named by --driver.spec, fulfills its
Spawn and Mate requests from the population's pluggable parent-selection
buffer, and persists every reported Death into the population directory
named by --population.dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Complete(); err != nil {
				return err
			}
			if errs := opts.Validate(); len(errs) > 0 {
				return fmt.Errorf("run: invalid configuration: %v", errs)
			}
			mode := envspec.ModeFromGraphical(graphical)
			return Run(cmd.Context(), opts, mode)
		},
	}
	cmd.Flags().BoolVar(&graphical, "graphical", false, "Run the environment with a graphical front end instead of headless.")
	return cmd
}

// CloneGenome and MateGenomes are the pluggable genome-reproduction
// callbacks an embedder swaps out for a real genetic algorithm; the driver
// loop itself never inspects genome bytes. The defaults below are a
// reference stand-in: clone copies the parent verbatim, and mate
// concatenates both parents' genomes.
var (
	CloneGenome = func(parent []byte) []byte {
		return append([]byte(nil), parent...)
	}
	MateGenomes = func(a, b []byte) []byte {
		out := make([]byte, 0, len(a)+len(b))
		out = append(out, a...)
		out = append(out, b...)
		return out
	}
	// SeedGenome supplies the initial genetic material for a group-size-0
	// spawn, when no parent exists to clone or mate from.
	SeedGenome = func() []byte { return nil }
)

// medianRank controls the shipped ranked-exponential selection default; the
// concrete distribution is a pluggable collaborator (spec's selection
// callback), so this is a starting point, not a tuned constant.
const medianRank = 4.0

// Run owns one full evolution-driver lifecycle: load the environment spec,
// open the population, spawn the environment subprocess, and loop Poll
// until the context is cancelled or the environment exits.
func Run(ctx context.Context, opts *config.Options, mode envspec.Mode) error {
	if opts.Log.Level != "" {
		logger.SetLevel(opts.Log.Level)
	}
	if opts.Log.Path != "" {
		if err := logger.InitLog(opts.Log.Path); err != nil {
			return fmt.Errorf("run: init log: %w", err)
		}
	}

	spec, err := envspec.Load(opts.Driver.SpecPath)
	if err != nil {
		return fmt.Errorf("run: load environment spec: %w", err)
	}

	replacement, err := config.ParseReplacement(opts.Population.Replacement)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	pop, err := population.New(opts.Population.Dir, replacement, opts.Population.Size, opts.Population.LeaderboardSize, opts.Population.HallOfFameSize, nil)
	if err != nil {
		return fmt.Errorf("run: open population: %w", err)
	}
	if opts.Population.IndexPath != "" {
		if err := pop.OpenIndex(opts.Population.IndexPath); err != nil {
			return fmt.Errorf("run: open population index: %w", err)
		}
		defer func() {
			if err := pop.CloseIndex(); err != nil {
				logger.Warn("run: close population index: %v", err)
			}
		}()
	}

	heartbeatTimeout, err := time.ParseDuration(opts.Driver.HeartbeatTimeout)
	if err != nil {
		return fmt.Errorf("run: parse driver.heartbeat-timeout: %w", err)
	}
	pollInterval, err := time.ParseDuration(opts.Driver.PollInterval)
	if err != nil {
		return fmt.Errorf("run: parse driver.poll-interval: %w", err)
	}

	var dash *dashboard.Server
	if opts.Dashboard.Enabled {
		dash, err = dashboard.NewServer(dashboard.ExtraConfig{Addr: opts.Dashboard.Address, Pop: pop})
		if err != nil {
			return fmt.Errorf("run: start dashboard: %w", err)
		}
		dash.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = dash.Stop(stopCtx)
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.ParseSettings(opts.Driver.Settings)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	sink := func(line string) { logger.WithField("source", "environment").Info(line) }
	inst, err := environment.Spawn(ctx, spec, mode, settings, opts.Driver.SpecPath, sink)
	if err != nil {
		return fmt.Errorf("run: spawn environment: %w", err)
	}
	defer func() {
		if err := inst.Close(); err != nil {
			logger.Warn("run: close environment: %v", err)
		}
	}()

	numGroups := 1
	if replacement == population.Generation {
		numGroups = opts.Population.Size
	}
	buffer := selection.NewBuffer(selection.RankExponential(medianRank), numGroups)

	d := &driver{
		opts:             opts,
		pop:              pop,
		inst:             inst,
		buffer:           buffer,
		dash:             dash,
		living:           make(map[string]*individual.Individual),
		heartbeatTimeout: heartbeatTimeout,
	}
	return d.loop(ctx, pollInterval)
}

// environmentHandle is the slice of *environment.Instance the driver loop
// actually needs, narrowed to an interface so the loop's event-handling
// logic can be tested against a fake instead of a real subprocess.
type environmentHandle interface {
	Poll() (environment.Event, bool, error)
	Birth(name, population string, parents, controllerArgs []string, genome []byte) error
	Heartbeat() error
	LastAckedAt() time.Time
}

// driver holds the mutable state threaded through one run of the evolution
// loop: the population being grown, the environment handle, the parent
// selection buffer, and every individual currently alive in the
// environment (so Mate requests, which name two live parents directly,
// don't need to consult the population at all).
type driver struct {
	opts   *config.Options
	pop    *population.Population
	inst   environmentHandle
	buffer *selection.Buffer
	dash   *dashboard.Server

	living           map[string]*individual.Individual
	heartbeatTimeout time.Duration
}

// loop polls the environment for events until ctx is cancelled or the
// environment exits, periodically sending a Heartbeat and checking the last
// Ack against heartbeatTimeout.
func (d *driver) loop(ctx context.Context, pollInterval time.Duration) error {
	events := make(chan pollResult)
	go d.pollLoop(events)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := d.inst.Heartbeat(); err != nil {
				return fmt.Errorf("run: send heartbeat: %w", err)
			}
			if time.Since(d.inst.LastAckedAt()) > d.heartbeatTimeout {
				return fmt.Errorf("run: environment stalled: no ack in %s", d.heartbeatTimeout)
			}

		case r := <-events:
			if r.err != nil {
				return fmt.Errorf("run: poll environment: %w", r.err)
			}
			if !r.surfaced {
				continue
			}
			if err := d.handle(r.event); err != nil {
				logger.Error("run: handle event: %v", err)
			}
		}
	}
}

type pollResult struct {
	event    environment.Event
	surfaced bool
	err      error
}

func (d *driver) pollLoop(out chan<- pollResult) {
	for {
		ev, surfaced, err := d.inst.Poll()
		out <- pollResult{event: ev, surfaced: surfaced, err: err}
		if err != nil {
			return
		}
	}
}

// handle dispatches one surfaced event to its handler.
func (d *driver) handle(ev environment.Event) error {
	switch ev.Kind {
	case env.ResponseSpawn:
		return d.handleSpawn(ev)
	case env.ResponseMate:
		return d.handleMate(ev)
	case env.ResponseDeath:
		return d.handleDeath(ev)
	default:
		return nil
	}
}

// handleSpawn fulfills a Spawn request by popping one parent grouping from
// the selection buffer and reproducing accordingly: 0 parents seeds fresh
// genetic material, 1 is asexual, 2 is sexual. Larger groupings are
// implementation-defined and fall back to sexual reproduction over the
// first two distinct parents.
func (d *driver) handleSpawn(ev environment.Event) error {
	group := selection.Dedupe(d.buffer.Next(d.pop.Members()))

	var child *individual.Individual
	switch len(group) {
	case 0:
		child = individual.New(ev.Spawn.Population, SeedGenome())
	case 1:
		parent, err := group[0].Load()
		if err != nil {
			return fmt.Errorf("spawn: load parent: %w", err)
		}
		child = individual.Asexual(parent, CloneGenome)
	default:
		a, err := group[0].Load()
		if err != nil {
			return fmt.Errorf("spawn: load parent a: %w", err)
		}
		b, err := group[1].Load()
		if err != nil {
			return fmt.Errorf("spawn: load parent b: %w", err)
		}
		child = individual.Sexual(a, b, MateGenomes)
	}

	return d.birth(child, ev.Spawn.Population)
}

// handleMate fulfills a Mate request naming two explicitly-live parents,
// looked up in the driver's own table of individuals currently outstanding
// in the environment (Instance.Outstanding carries no genome, so the
// driver must track genomes for parents itself).
func (d *driver) handleMate(ev environment.Event) error {
	a, ok := d.living[ev.Mate.Parents[0]]
	if !ok {
		return fmt.Errorf("mate: unknown parent %q", ev.Mate.Parents[0])
	}
	b, ok := d.living[ev.Mate.Parents[1]]
	if !ok {
		return fmt.Errorf("mate: unknown parent %q", ev.Mate.Parents[1])
	}
	child := individual.Sexual(a, b, MateGenomes)
	return d.birth(child, a.Population)
}

func (d *driver) birth(child *individual.Individual, popName string) error {
	child.MarkBirth(time.Now())
	if err := d.inst.Birth(child.Name, popName, child.Parents, child.Controller, child.Genome()); err != nil {
		return fmt.Errorf("birth %s: %w", child.Name, err)
	}
	d.living[child.Name] = child
	if d.dash != nil {
		d.dash.PublishBirth(child.Name)
	}
	return nil
}

// handleDeath finalizes the departed individual's record (merging in any
// Score/Telemetry observed while it was alive), persists it into the
// population, and drops it from the driver's live-parent table.
func (d *driver) handleDeath(ev environment.Event) error {
	ind, ok := d.living[ev.Death.Name]
	if !ok {
		ind = individual.New(ev.Death.Record.Population, nil)
		ind.Name = ev.Death.Name
		ind.Parents = ev.Death.Record.Parents
		ind.Controller = ev.Death.Record.Controller
	}
	delete(d.living, ev.Death.Name)

	ind.Score = ev.Death.Record.Score
	ind.Telemetry = ev.Death.Record.Telemetry
	ind.MarkDeath(time.Now())

	if err := d.pop.Add(ind); err != nil {
		return fmt.Errorf("death %s: add to population: %w", ev.Death.Name, err)
	}
	if d.dash != nil {
		d.dash.PublishDeath(ind.Name, ind.ScoreValue(), d.pop.Ascension())
	}
	return nil
}

// Package environment implements the evolution driver's handle onto a
// running environment subprocess: spawning it, tracking which individuals
// have been delivered and not yet reported dead, and translating the wire
// protocol's Spawn/Mate/Score/Telemetry/Death responses into driver-facing
// events (spec §4.5).
package environment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiosk404/npcmaker/internal/envspec"
	"github.com/kiosk404/npcmaker/internal/subprocess"
	"github.com/kiosk404/npcmaker/internal/wire/env"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// Outstanding is the driver's record of an individual it has delivered to
// the environment and not yet seen reported dead.
type Outstanding struct {
	Name       string
	Population string
	Parents    []string
	Controller []string
	BirthTime  time.Time
	// DeathTime is stamped when the environment reports the individual's
	// Death, just before the record is surfaced.
	DeathTime time.Time

	// Score holds the most recent Score response addressed to this
	// individual while it's alive, and Telemetry merges the keys of every
	// Telemetry response (a later value replaces an earlier one under the
	// same key), so the record surfaced on Death carries the latest score
	// and all telemetry reported while the individual was alive.
	Score     string
	Telemetry map[string]any
}

// Event is a driver-facing notification surfaced from the environment's
// response stream. Exactly one of the typed fields is populated, selected
// by Kind.
type Event struct {
	Kind env.ResponseKind

	Spawn Spawn
	Mate  Mate
	Death Death
}

// Spawn asks the driver for a fresh individual to populate a body.
type Spawn struct {
	Population string
}

// Mate asks the driver to produce a child from two named parents.
type Mate struct {
	Parents [2]string
}

// Death reports that an outstanding individual has died. Record is the
// final Outstanding entry, with ownership transferred to the caller (the
// Instance no longer tracks it).
type Death struct {
	Name   string
	Record Outstanding
}

// Instance is the driver's handle onto one running environment subprocess.
type Instance struct {
	proc *subprocess.Process
	w    *subprocess.LineWriter

	mu          sync.Mutex
	outstanding map[string]Outstanding
	singlePop   string // the one population name, when exactly one exists
	lastAcked   time.Time
}

// Spawn launches the environment program named by spec.Path with the
// standard [spec-path, mode, settings...] argument convention, against a
// loaded environment spec.
func Spawn(ctx context.Context, spec *envspec.Spec, mode envspec.Mode, settings []envspec.SettingValue, specPath string, sink subprocess.StderrSink) (*Instance, error) {
	args := envspec.Args(spec, specPath, mode, settings)
	proc, err := subprocess.Spawn(ctx, spec.Path, args, sink)
	if err != nil {
		return nil, err
	}
	inst := &Instance{
		proc:        proc,
		w:           subprocess.NewLineWriter(proc.Stdin),
		outstanding: make(map[string]Outstanding),
		lastAcked:   time.Now(),
	}
	if len(spec.Populations) == 1 {
		inst.singlePop = spec.Populations[0].Name
	}
	return inst, nil
}

// defaultedPopulation fills in the sole population name when one wasn't
// given and exactly one population exists, per the single-population
// defaulting rule.
func (inst *Instance) defaultedPopulation(population string) (string, error) {
	if population != "" {
		return population, nil
	}
	if inst.singlePop == "" {
		return "", fmt.Errorf("environment: population name required (environment exposes more than one population)")
	}
	return inst.singlePop, nil
}

// Birth delivers a new individual to the environment. An empty population
// is filled in by the single-population defaulting rule; name, parents and
// controller are sent as given.
func (inst *Instance) Birth(name, population string, parents, controllerArgs []string, genome []byte) error {
	population, err := inst.defaultedPopulation(population)
	if err != nil {
		return err
	}

	req := env.Request{
		Kind:            env.RequestBirth,
		BirthName:       name,
		BirthPopulation: population,
		BirthParents:    parents,
		BirthController: controllerArgs,
		Genome:          genome,
	}
	if err := env.WriteRequest(inst.w, req); err != nil {
		return err
	}
	if err := inst.w.Flush(); err != nil {
		return err
	}

	inst.mu.Lock()
	inst.outstanding[name] = Outstanding{
		Name:       name,
		Population: population,
		Parents:    parents,
		Controller: controllerArgs,
		BirthTime:  time.Now(),
	}
	inst.mu.Unlock()
	return nil
}

func (inst *Instance) sendSimple(kind env.RequestKind) error {
	if err := env.WriteRequest(inst.w, env.Request{Kind: kind}); err != nil {
		return err
	}
	return inst.w.Flush()
}

func (inst *Instance) Start() error     { return inst.sendSimple(env.RequestStart) }
func (inst *Instance) Stop() error      { return inst.sendSimple(env.RequestStop) }
func (inst *Instance) Pause() error     { return inst.sendSimple(env.RequestPause) }
func (inst *Instance) Resume() error    { return inst.sendSimple(env.RequestResume) }
func (inst *Instance) Heartbeat() error { return inst.sendSimple(env.RequestHeartbeat) }

// Save asks the environment to persist its own state to path.
func (inst *Instance) Save(path string) error {
	if err := env.WriteRequest(inst.w, env.Request{Kind: env.RequestSave, Path: path}); err != nil {
		return err
	}
	return inst.w.Flush()
}

// Load asks the environment to restore its state from path.
func (inst *Instance) Load(path string) error {
	if err := env.WriteRequest(inst.w, env.Request{Kind: env.RequestLoad, Path: path}); err != nil {
		return err
	}
	return inst.w.Flush()
}

// Custom sends a user-defined request payload.
func (inst *Instance) Custom(payload interface{}) error {
	if err := env.WriteRequest(inst.w, env.Request{Kind: env.RequestCustom, Custom: payload}); err != nil {
		return err
	}
	return inst.w.Flush()
}

// Poll reads the next response from the environment, consuming Score and
// Telemetry responses internally (folding them into the outstanding
// record) rather than surfacing them, and translates Spawn/Mate/Death into
// driver-facing Events. It returns (Event{}, false, nil) when the message
// was consumed internally and nothing needs to reach the caller.
func (inst *Instance) Poll() (Event, bool, error) {
	resp, err := env.ReadResponse(inst.proc.Stdout)
	if err != nil {
		return Event{}, false, err
	}

	switch resp.Kind {
	case env.ResponseScore:
		name, err := inst.resolveName(resp.Name)
		if err != nil {
			return Event{}, false, err
		}
		logger.WithField("individual", name).Debug("score %v", resp.Score)
		inst.mu.Lock()
		record := inst.outstanding[name]
		record.Score = resp.Score
		inst.outstanding[name] = record
		inst.mu.Unlock()
		return Event{}, false, nil

	case env.ResponseTelemetry:
		name, err := inst.resolveName(resp.Name)
		if err != nil {
			return Event{}, false, err
		}
		logger.WithField("individual", name).Debug("telemetry %v", resp.Info)
		inst.mu.Lock()
		record := inst.outstanding[name]
		if record.Telemetry == nil {
			record.Telemetry = make(map[string]any)
		}
		if info, ok := resp.Info.(map[string]interface{}); ok {
			for k, v := range info {
				record.Telemetry[k] = v
			}
		}
		inst.outstanding[name] = record
		inst.mu.Unlock()
		return Event{}, false, nil

	case env.ResponseSpawn:
		population, err := inst.defaultedPopulation(resp.Population)
		if err != nil {
			return Event{}, false, err
		}
		return Event{Kind: env.ResponseSpawn, Spawn: Spawn{Population: population}}, true, nil

	case env.ResponseMate:
		return Event{Kind: env.ResponseMate, Mate: Mate{Parents: resp.Parents}}, true, nil

	case env.ResponseDeath:
		name, err := inst.resolveName(resp.Name)
		if err != nil {
			return Event{}, false, err
		}
		inst.mu.Lock()
		record, ok := inst.outstanding[name]
		delete(inst.outstanding, name)
		inst.mu.Unlock()
		if !ok {
			return Event{}, false, fmt.Errorf("environment: death reported for unknown individual %q", name)
		}
		record.DeathTime = time.Now()
		return Event{Kind: env.ResponseDeath, Death: Death{Name: name, Record: record}}, true, nil

	case env.ResponseAck:
		inst.mu.Lock()
		inst.lastAcked = time.Now()
		inst.mu.Unlock()
		return Event{}, false, nil

	default:
		return Event{}, false, fmt.Errorf("environment: unrecognized response kind %q", resp.Kind)
	}
}

// resolveName fills in the sole outstanding individual's name when name is
// empty and exactly one individual is currently outstanding, mirroring the
// protocol's single-individual defaulting rule.
func (inst *Instance) resolveName(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if len(inst.outstanding) != 1 {
		return "", fmt.Errorf("environment: individual name required (%d individuals outstanding)", len(inst.outstanding))
	}
	for n := range inst.outstanding {
		return n, nil
	}
	return "", fmt.Errorf("environment: unreachable")
}

// Outstanding returns a snapshot of individuals currently delivered and not
// yet reported dead.
func (inst *Instance) Outstanding() map[string]Outstanding {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make(map[string]Outstanding, len(inst.outstanding))
	for k, v := range inst.outstanding {
		out[k] = v
	}
	return out
}

// LastAckedAt reports when the environment last acknowledged a request.
// Deciding when a stalled environment has gone too long without an Ack is a
// driver-loop policy; this is just the raw timestamp it's judged against.
func (inst *Instance) LastAckedAt() time.Time {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.lastAcked
}

// Close sends the environment a Stop request and closes its stdin; it does
// not wait for the process to exit (Wait does that). Heartbeat
// enforcement (deciding when a stalled environment should be force-killed)
// is a driver-loop policy, not implemented here.
func (inst *Instance) Close() error {
	if err := inst.Stop(); err != nil {
		logger.Warn("environment: stop request failed during close: %v", err)
	}
	return inst.proc.Close()
}

func (inst *Instance) Wait() error { return inst.proc.Wait() }

// Package controller implements the environment-side handle onto a
// controller subprocess: spawning it, binding it to an environment spec and
// population, feeding it genomes, and driving it through the state machine
// described by the controller wire protocol (spec §4.1-4.2).
package controller

import (
	"bufio"
	"context"
	"fmt"

	"github.com/kiosk404/npcmaker/internal/subprocess"
	"github.com/kiosk404/npcmaker/internal/wire/ctrl"
)

// state tracks the controller's protocol state machine: unbound, bound
// (environment + population known), modelled (a genome is loaded).
type state int

const (
	stateUnbound state = iota
	stateBound
	stateModelled
)

// Handle is the environment's view of a running controller subprocess.
type Handle struct {
	proc *subprocess.Process
	w    *subprocess.LineWriter
	r    *bufio.Reader

	state state
}

// Spawn launches the controller program at path with args, writes the
// initial binding frames (Environment then Population), and returns a
// Handle ready to accept genomes.
func Spawn(ctx context.Context, path string, args []string, environment, population string, sink subprocess.StderrSink) (*Handle, error) {
	proc, err := subprocess.Spawn(ctx, path, args, sink)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		proc: proc,
		w:    subprocess.NewLineWriter(proc.Stdin),
		r:    proc.Stdout,
	}
	if err := h.bind(environment, population); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

func (h *Handle) bind(environment, population string) error {
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagEnvironment, Environment: environment}); err != nil {
		return fmt.Errorf("controller: bind environment: %w", err)
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagPopulation, Population: population}); err != nil {
		return fmt.Errorf("controller: bind population: %w", err)
	}
	h.state = stateBound
	return h.w.Flush()
}

func (h *Handle) requireModelled(op string) error {
	if h.state != stateModelled {
		return fmt.Errorf("controller: %s requires a loaded genome", op)
	}
	return nil
}

// LoadGenome sends a new genome to the controller, discarding any existing
// model. Requires the controller to already be bound.
func (h *Handle) LoadGenome(genome []byte) error {
	if h.state == stateUnbound {
		return fmt.Errorf("controller: genome requires environment and population to be bound first")
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagGenome, Genome: genome}); err != nil {
		return err
	}
	h.state = stateModelled
	return h.w.Flush()
}

// Reset asks the controller to reset its modelled state.
func (h *Handle) Reset() error {
	if err := h.requireModelled("reset"); err != nil {
		return err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagReset}); err != nil {
		return err
	}
	return h.w.Flush()
}

// Advance steps the controller's simulation forward by dt seconds.
func (h *Handle) Advance(dt float64) error {
	if err := h.requireModelled("advance"); err != nil {
		return err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagAdvance, DT: dt}); err != nil {
		return err
	}
	return h.w.Flush()
}

// SetInput sets a textual value on the given input GIN.
func (h *Handle) SetInput(gin uint64, value string) error {
	if err := h.requireModelled("set input"); err != nil {
		return err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagSetInput, GIN: gin, Value: value}); err != nil {
		return err
	}
	return h.w.Flush()
}

// SetBinary sets a binary value on the given input GIN.
func (h *Handle) SetBinary(gin uint64, value []byte) error {
	if err := h.requireModelled("set binary"); err != nil {
		return err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagSetBinary, GIN: gin, Bytes: value}); err != nil {
		return err
	}
	return h.w.Flush()
}

// GetOutputs requests output values for every GIN in gins, pipelining all
// requests before reading any replies, and returns a map from GIN to the
// textual value the controller reported. The controller is required to
// answer in the same order the requests were sent.
func (h *Handle) GetOutputs(gins []uint64) (map[uint64]string, error) {
	if err := h.requireModelled("get outputs"); err != nil {
		return nil, err
	}
	for _, gin := range gins {
		if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagGetOutput, GIN: gin}); err != nil {
			return nil, err
		}
	}
	if err := h.w.Flush(); err != nil {
		return nil, err
	}

	out := make(map[uint64]string, len(gins))
	for range gins {
		gin, value, err := ctrl.ReadOutput(h.r)
		if err != nil {
			return nil, fmt.Errorf("controller: read output: %w", err)
		}
		out[gin] = value
	}
	return out, nil
}

// Save requests a save blob from the controller.
func (h *Handle) Save() ([]byte, error) {
	if err := h.requireModelled("save"); err != nil {
		return nil, err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagSave}); err != nil {
		return nil, err
	}
	if err := h.w.Flush(); err != nil {
		return nil, err
	}
	blob, err := ctrl.ReadSaveBlob(h.r)
	if err != nil {
		return nil, fmt.Errorf("controller: read save reply: %w", err)
	}
	return blob, nil
}

// Load sends a previously captured save blob back to the controller.
func (h *Handle) Load(blob []byte) error {
	if err := h.requireModelled("load"); err != nil {
		return err
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.TagLoad, Bytes: blob}); err != nil {
		return err
	}
	return h.w.Flush()
}

// Custom sends a user-defined extension frame. tag must be an uppercase
// letter not reserved by the core protocol.
func (h *Handle) Custom(tag byte, body string) error {
	if !ctrl.IsCustomTag(tag) {
		return fmt.Errorf("controller: %q is not a legal custom extension tag", tag)
	}
	if err := ctrl.Write(h.w, ctrl.Message{Tag: ctrl.Tag(tag), Body: body}); err != nil {
		return err
	}
	return h.w.Flush()
}

// Close asks the controller to quit by closing its stdin, without
// force-killing the process. Call Wait to reap it afterward.
func (h *Handle) Close() error {
	return h.proc.Close()
}

// Wait blocks until the controller subprocess exits.
func (h *Handle) Wait() error {
	return h.proc.Wait()
}

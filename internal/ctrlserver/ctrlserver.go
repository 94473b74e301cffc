// Package ctrlserver implements the controller side's main loop: the
// library entry point a controller program uses to speak the controller
// wire protocol to its parent environment over stdin/stdout.
package ctrlserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kiosk404/npcmaker/internal/wire/ctrl"
)

// ErrUnsupported is returned by the default implementations of the optional
// hooks below. Controllers that don't implement a capability should return
// it (or let the embedded Base type do so) rather than panic.
var ErrUnsupported = errors.New("ctrlserver: unsupported operation")

// Controller is the behavior a controller program supplies to Serve. Bind,
// LoadGenome, Reset, Advance, SetInput and GetOutput are mandatory; the
// remaining methods are optional and default to ErrUnsupported via Base.
type Controller interface {
	// Bind is called once per Environment/Population frame pair, in that
	// order, before any Genome frame arrives.
	Bind(environment, population string) error

	LoadGenome(genome []byte) error
	Reset() error
	Advance(dt float64) error
	SetInput(gin uint64, value string) error
	GetOutput(gin uint64) (string, error)

	SetBinary(gin uint64, value []byte) error
	Save() ([]byte, error)
	Load(blob []byte) error
	Custom(tag byte, body string) error

	// Quit is invoked once, after EOF is observed on stdin, before Serve
	// returns.
	Quit()
}

// Base supplies ErrUnsupported-returning defaults for the optional hooks.
// Controller implementations embed Base to avoid implementing every method.
type Base struct{}

func (Base) SetBinary(uint64, []byte) error      { return ErrUnsupported }
func (Base) Save() ([]byte, error)               { return nil, ErrUnsupported }
func (Base) Load([]byte) error                   { return ErrUnsupported }
func (Base) Custom(byte, string) error            { return ErrUnsupported }
func (Base) Quit()                               {}

// Serve runs the controller main loop against r/w (typically os.Stdin and
// os.Stdout), dispatching frames to impl until EOF is observed on r, which
// is the protocol's quit signal. Serve then calls impl.Quit and returns
// nil. Any other read or write error is returned immediately.
func Serve(r io.Reader, w io.Writer, impl Controller) error {
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	bound := false
	hasEnvironment, hasPopulation := false, false
	var envPath, popName string

	for {
		msg, err := ctrl.Read(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				impl.Quit()
				return nil
			}
			return fmt.Errorf("ctrlserver: read frame: %w", err)
		}

		switch msg.Tag {
		case ctrl.TagEnvironment:
			envPath = msg.Environment
			hasEnvironment = true
			if hasPopulation {
				if err := impl.Bind(envPath, popName); err != nil {
					return err
				}
				bound = true
			}

		case ctrl.TagPopulation:
			popName = msg.Population
			hasPopulation = true
			if hasEnvironment {
				if err := impl.Bind(envPath, popName); err != nil {
					return err
				}
				bound = true
			}

		case ctrl.TagGenome:
			if !bound {
				return fmt.Errorf("ctrlserver: genome frame before environment/population binding")
			}
			if err := impl.LoadGenome(msg.Genome); err != nil {
				return err
			}

		case ctrl.TagReset:
			if err := impl.Reset(); err != nil {
				return err
			}

		case ctrl.TagAdvance:
			if err := impl.Advance(msg.DT); err != nil {
				return err
			}

		case ctrl.TagSetInput:
			if err := impl.SetInput(msg.GIN, msg.Value); err != nil {
				return err
			}

		case ctrl.TagSetBinary:
			if err := impl.SetBinary(msg.GIN, msg.Bytes); err != nil {
				return err
			}

		case ctrl.TagGetOutput:
			value, err := impl.GetOutput(msg.GIN)
			if err != nil {
				return err
			}
			if err := ctrl.WriteOutput(writer, msg.GIN, value); err != nil {
				return err
			}
			if err := writer.Flush(); err != nil {
				return err
			}

		case ctrl.TagSave:
			blob, err := impl.Save()
			if err != nil {
				return err
			}
			if err := ctrl.WriteSaveBlob(writer, blob); err != nil {
				return err
			}
			if err := writer.Flush(); err != nil {
				return err
			}

		case ctrl.TagLoad:
			if err := impl.Load(msg.Bytes); err != nil {
				return err
			}

		default:
			if msg.Custom != 0 {
				if err := impl.Custom(msg.Custom, msg.Body); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("ctrlserver: unrecognized frame tag %q", msg.Tag)
		}
	}
}

// ServeStdio is a convenience wrapper around Serve using the process's own
// stdin and stdout, the way a controller program's main() typically invokes
// it.
func ServeStdio(impl Controller) error {
	return Serve(os.Stdin, os.Stdout, impl)
}

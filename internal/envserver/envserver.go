// Package envserver provides the environment program's side of the
// environment wire protocol: a non-blocking poll for driver requests, and
// emitters for the Ack/Spawn/Mate/Score/Telemetry/Death responses.
package envserver

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/kiosk404/npcmaker/internal/wire/env"
)

// Server is an environment program's handle onto its driver, reading
// Requests from stdin and writing Responses to stdout.
type Server struct {
	r *bufio.Reader
	w io.Writer
}

// New wraps r/w (typically a non-blocking stdin and stdout) in a Server.
func New(r io.Reader, w io.Writer) *Server {
	return &Server{r: bufio.NewReader(r), w: w}
}

// NewStdio sets stdin non-blocking (on platforms that support it) and
// returns a Server wrapping the process's own stdin/stdout, the way an
// environment program's main() typically constructs one.
func NewStdio() (*Server, error) {
	if err := setNonBlocking(os.Stdin); err != nil {
		return nil, err
	}
	return New(os.Stdin, os.Stdout), nil
}

// ErrWouldBlock is returned by Poll when no complete request is currently
// available on a non-blocking stdin.
var ErrWouldBlock = errors.New("envserver: no message available")

// Poll attempts to read the next Request without blocking. It returns
// ErrWouldBlock, not an error, when nothing is available yet; callers
// should treat that as "try again later" rather than a failure. Any other
// read or decode error is surfaced, per the protocol's "decode errors are
// reported, not silently swallowed" contract.
func (s *Server) Poll() (env.Request, error) {
	if s.r.Buffered() == 0 {
		// Probe for at least one byte before committing to a blocking
		// ReadString inside ReadRequest; on a non-blocking fd this returns
		// immediately with EAGAIN if nothing is ready.
		if _, err := s.r.Peek(1); err != nil {
			if isWouldBlock(err) {
				return env.Request{}, ErrWouldBlock
			}
			return env.Request{}, err
		}
	}
	return env.ReadRequest(s.r)
}

// Ack acknowledges a non-Birth request.
func (s *Server) Ack(req env.Request) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseAck, Acked: req})
}

// Spawn reports that the environment needs a fresh individual for
// population.
func (s *Server) Spawn(population string) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseSpawn, Population: population})
}

// Mate reports that the environment wants a child produced from two named
// parents.
func (s *Server) Mate(parentA, parentB string) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseMate, Parents: [2]string{parentA, parentB}})
}

// Score reports an individual's score, as raw wire text rather than a
// parsed number so an environment can report non-numeric or
// precision-preserving score text. name may be empty when exactly one
// individual is outstanding (single-individual defaulting).
func (s *Server) Score(name string, score string) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseScore, Score: score, Name: name})
}

// Telemetry reports arbitrary diagnostic info about an individual.
func (s *Server) Telemetry(name string, info interface{}) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseTelemetry, Info: info, Name: name})
}

// Death reports that an individual has died.
func (s *Server) Death(name string) error {
	return env.WriteResponse(s.w, env.Response{Kind: env.ResponseDeath, Name: name})
}

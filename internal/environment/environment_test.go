package environment

import (
	"bufio"
	"io"
	"testing"

	"github.com/kiosk404/npcmaker/internal/subprocess"
	"github.com/kiosk404/npcmaker/internal/wire/env"
)

// newTestInstance builds an Instance around an in-memory pipe so Poll/Birth
// can be exercised without spawning a real subprocess.
func newTestInstance(t *testing.T) (*Instance, *bufio.Writer, io.Reader) {
	t.Helper()
	reqR, reqW := io.Pipe()   // driver writes requests into reqW; reqR is drained below
	respR, respW := io.Pipe() // test writes fake environment responses into respW

	inst := &Instance{
		proc: &subprocess.Process{},
	}
	inst.proc.Stdin = reqW
	inst.proc.Stdout = bufio.NewReader(respR)
	inst.w = subprocess.NewLineWriter(reqW)
	inst.outstanding = make(map[string]Outstanding)

	go io.Copy(io.Discard, reqR)

	return inst, bufio.NewWriter(respW), reqR
}

func TestBirthTracksOutstanding(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	if err := inst.Birth("1234", "pop1", nil, nil, []byte("genome")); err != nil {
		t.Fatalf("Birth: %v", err)
	}
	out := inst.Outstanding()
	if _, ok := out["1234"]; !ok {
		t.Fatalf("expected 1234 to be outstanding, got %v", out)
	}
}

func TestResolveNameDefaultsToSoleOutstanding(t *testing.T) {
	inst, _, _ := newTestInstance(t)
	if err := inst.Birth("1234", "pop1", nil, nil, nil); err != nil {
		t.Fatalf("Birth: %v", err)
	}
	name, err := inst.resolveName("")
	if err != nil {
		t.Fatalf("resolveName: %v", err)
	}
	if name != "1234" {
		t.Fatalf("resolveName = %q, want 1234", name)
	}
}

func TestPollDeathSurfacesAndRemovesOutstanding(t *testing.T) {
	inst, respWriter, _ := newTestInstance(t)
	if err := inst.Birth("1234", "pop1", nil, nil, nil); err != nil {
		t.Fatalf("Birth: %v", err)
	}

	go func() {
		_ = env.WriteResponse(respWriter, env.Response{Kind: env.ResponseDeath, Name: "1234"})
		_ = respWriter.Flush()
	}()

	ev, surfaced, err := inst.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !surfaced {
		t.Fatalf("expected Death to surface")
	}
	if ev.Death.Name != "1234" {
		t.Fatalf("Death.Name = %q", ev.Death.Name)
	}
	if _, ok := inst.Outstanding()["1234"]; ok {
		t.Fatalf("expected 1234 to be removed from outstanding after death")
	}
}

func TestPollScoreIsConsumedInternally(t *testing.T) {
	inst, respWriter, _ := newTestInstance(t)
	if err := inst.Birth("1234", "pop1", nil, nil, nil); err != nil {
		t.Fatalf("Birth: %v", err)
	}

	go func() {
		_ = env.WriteResponse(respWriter, env.Response{Kind: env.ResponseScore, Score: "0.9", Name: "1234"})
		_ = respWriter.Flush()
	}()

	_, surfaced, err := inst.Poll()
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if surfaced {
		t.Fatalf("expected Score to be consumed internally, not surfaced")
	}
}

func TestPollAccumulatesScoreAndTelemetryUntilDeath(t *testing.T) {
	inst, respWriter, _ := newTestInstance(t)
	if err := inst.Birth("1234", "pop1", nil, nil, nil); err != nil {
		t.Fatalf("Birth: %v", err)
	}

	go func() {
		_ = env.WriteResponse(respWriter, env.Response{Kind: env.ResponseScore, Score: "7.25", Name: "1234"})
		_ = env.WriteResponse(respWriter, env.Response{Kind: env.ResponseTelemetry, Info: map[string]interface{}{"k": "v"}, Name: "1234"})
		_ = env.WriteResponse(respWriter, env.Response{Kind: env.ResponseDeath, Name: "1234"})
		_ = respWriter.Flush()
	}()

	if _, surfaced, err := inst.Poll(); err != nil || surfaced {
		t.Fatalf("score poll: surfaced=%v err=%v", surfaced, err)
	}
	if _, surfaced, err := inst.Poll(); err != nil || surfaced {
		t.Fatalf("telemetry poll: surfaced=%v err=%v", surfaced, err)
	}
	ev, surfaced, err := inst.Poll()
	if err != nil {
		t.Fatalf("death poll: %v", err)
	}
	if !surfaced {
		t.Fatalf("expected Death to surface")
	}
	if ev.Death.Record.Score != "7.25" {
		t.Fatalf("Death.Record.Score = %q, want 7.25", ev.Death.Record.Score)
	}
	if got := ev.Death.Record.Telemetry["k"]; got != "v" {
		t.Fatalf("Death.Record.Telemetry[k] = %v, want v", got)
	}
}

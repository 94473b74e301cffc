package run

import (
	"testing"
	"time"

	"github.com/kiosk404/npcmaker/internal/environment"
	"github.com/kiosk404/npcmaker/internal/individual"
	"github.com/kiosk404/npcmaker/internal/population"
	"github.com/kiosk404/npcmaker/internal/selection"
	"github.com/kiosk404/npcmaker/internal/wire/env"
)

// fakeEnv is a minimal environmentHandle that records every Birth call
// instead of talking to a real subprocess.
type fakeEnv struct {
	births []fakeBirth
}

type fakeBirth struct {
	name, population string
	parents          []string
}

func (f *fakeEnv) Poll() (environment.Event, bool, error) { return environment.Event{}, false, nil }
func (f *fakeEnv) Birth(name, population string, parents, controllerArgs []string, genome []byte) error {
	f.births = append(f.births, fakeBirth{name: name, population: population, parents: parents})
	return nil
}
func (f *fakeEnv) Heartbeat() error       { return nil }
func (f *fakeEnv) LastAckedAt() time.Time { return time.Now() }

func newTestDriver(t *testing.T) (*driver, *fakeEnv) {
	t.Helper()
	pop, err := population.New(t.TempDir(), population.Oldest, 10, 3, 3, nil)
	if err != nil {
		t.Fatalf("population.New: %v", err)
	}
	fe := &fakeEnv{}
	d := &driver{
		pop:    pop,
		inst:   fe,
		buffer: selection.NewBuffer(selection.RankExponential(medianRank), 1),
		living: make(map[string]*individual.Individual),
	}
	return d, fe
}

func TestHandleSpawnWithNoMembersSeedsFreshIndividual(t *testing.T) {
	d, fe := newTestDriver(t)

	ev := environment.Event{Kind: env.ResponseSpawn, Spawn: environment.Spawn{Population: "bugs"}}
	if err := d.handle(ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fe.births) != 1 {
		t.Fatalf("expected one birth, got %d", len(fe.births))
	}
	if fe.births[0].population != "bugs" {
		t.Fatalf("population = %q, want bugs", fe.births[0].population)
	}
	if len(fe.births[0].parents) != 0 {
		t.Fatalf("expected no parents for a seed spawn, got %v", fe.births[0].parents)
	}
	if len(d.living) != 1 {
		t.Fatalf("expected the new individual to be tracked as living")
	}
}

func TestHandleMateUsesExplicitLivingParents(t *testing.T) {
	d, fe := newTestDriver(t)

	a := individual.New("bugs", []byte("A"))
	b := individual.New("bugs", []byte("B"))
	d.living[a.Name] = a
	d.living[b.Name] = b

	ev := environment.Event{Kind: env.ResponseMate, Mate: environment.Mate{Parents: [2]string{a.Name, b.Name}}}
	if err := d.handle(ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fe.births) != 1 {
		t.Fatalf("expected one birth, got %d", len(fe.births))
	}
	if len(fe.births[0].parents) != 2 {
		t.Fatalf("expected two parents recorded, got %v", fe.births[0].parents)
	}
}

func TestHandleMateUnknownParentErrors(t *testing.T) {
	d, _ := newTestDriver(t)
	ev := environment.Event{Kind: env.ResponseMate, Mate: environment.Mate{Parents: [2]string{"ghost-a", "ghost-b"}}}
	if err := d.handle(ev); err == nil {
		t.Fatalf("expected an error for unknown mate parents")
	}
}

func TestHandleDeathAddsToPopulationAndDropsLiving(t *testing.T) {
	d, _ := newTestDriver(t)

	child := individual.New("bugs", []byte("G"))
	d.living[child.Name] = child

	ev := environment.Event{
		Kind: env.ResponseDeath,
		Death: environment.Death{
			Name: child.Name,
			Record: environment.Outstanding{
				Name:       child.Name,
				Population: "bugs",
				Score:      "7.25",
				Telemetry:  map[string]any{"k": "v"},
			},
		},
	}
	if err := d.handle(ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, ok := d.living[child.Name]; ok {
		t.Fatalf("expected %s to be dropped from living", child.Name)
	}
	members := d.pop.Members()
	if len(members) != 1 {
		t.Fatalf("expected one member after death, got %d", len(members))
	}
}

func TestHandleDeathOfUnknownIndividualStillPersists(t *testing.T) {
	d, _ := newTestDriver(t)

	ev := environment.Event{
		Kind: env.ResponseDeath,
		Death: environment.Death{
			Name: "stray",
			Record: environment.Outstanding{
				Name:       "stray",
				Population: "bugs",
				Score:      "1",
			},
		},
	}
	if err := d.handle(ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(d.pop.Members()) != 1 {
		t.Fatalf("expected the unknown individual to still be recorded")
	}
}

package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kiosk404/npcmaker/internal/population"
)

type fakePopulation struct {
	members     []population.Stub
	leaderboard []population.Stub
	hallOfFame  []population.Stub
	ascension   uint64
	generation  uint64
}

func (f *fakePopulation) Members() []population.Stub     { return f.members }
func (f *fakePopulation) Leaderboard() []population.Stub { return f.leaderboard }
func (f *fakePopulation) HallOfFame() []population.Stub  { return f.hallOfFame }
func (f *fakePopulation) Ascension() uint64  { return f.ascension }
func (f *fakePopulation) Generation() uint64 { return f.generation }
func (f *fakePopulation) Replacement() population.Replacement {
	return population.Oldest
}
func (f *fakePopulation) PopulationSize() int { return 10 }

func newTestRouter(pop PopulationView) (*gin.Engine, *Broadcaster) {
	gin.SetMode(gin.TestMode)
	g := gin.New()
	events := NewBroadcaster()
	installRoutes(g, pop, events)
	return g, events
}

func TestStatusRouteReportsCounters(t *testing.T) {
	pop := &fakePopulation{ascension: 7, generation: 2}
	g, _ := newTestRouter(pop)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ascension"].(float64) != 7 {
		t.Fatalf("ascension = %v, want 7", body["ascension"])
	}
	if body["replacement"] != "Oldest" {
		t.Fatalf("replacement = %v, want Oldest", body["replacement"])
	}
}

func TestMembersRouteRendersStubNames(t *testing.T) {
	pop := &fakePopulation{
		members: []population.Stub{{Path: "/pop/members/ABC.indiv", Score: 0.5, Ascension: 1}},
	}
	g, _ := newTestRouter(pop)

	req := httptest.NewRequest(http.MethodGet, "/api/members", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	var got []stubJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Name != "ABC" {
		t.Fatalf("unexpected members response: %+v", got)
	}
}

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	sub, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(Event{Kind: EventBirth, Name: "ABC"})

	select {
	case ev := <-sub:
		if ev.Name != "ABC" || ev.Kind != EventBirth {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected the subscriber to receive the published event")
	}
}

func TestBroadcasterDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroadcaster()
	sub, unsubscribe := b.Subscribe()
	defer unsubscribe()

	for i := 0; i < 64; i++ {
		b.Publish(Event{Kind: EventDeath, Name: "X"})
	}
	_ = sub
}

func TestStubName(t *testing.T) {
	s := population.Stub{Path: "/a/b/NAME.indiv"}
	if got := stubName(s); got != "NAME" {
		t.Fatalf("stubName = %q, want NAME", got)
	}
}

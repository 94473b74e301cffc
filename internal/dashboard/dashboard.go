// Package dashboard serves an optional, read-only HTTP status view over a
// running population: its current members, leaderboard, and hall of fame,
// a live SSE stream of birth/death events, pprof profiling routes, and a
// reflection-enabled gRPC health endpoint — mirroring the teacher's
// apiServer (gRPC + generic HTTP server side by side), repurposed from an
// LLM gateway to a population-inspection dashboard.
package dashboard

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/kiosk404/npcmaker/internal/population"
	"github.com/kiosk404/npcmaker/pkg/logger"
)

// PopulationView is the read-only slice of *population.Population the
// dashboard needs. Declaring it narrowly (rather than depending on the
// concrete type) keeps the dashboard testable against a fake.
type PopulationView interface {
	Members() []population.Stub
	Leaderboard() []population.Stub
	HallOfFame() []population.Stub
	Ascension() uint64
	Generation() uint64
	Replacement() population.Replacement
	PopulationSize() int
}

// ExtraConfig holds the dashboard's own settings, independent of the
// generic HTTP/gRPC machinery.
type ExtraConfig struct {
	Addr     string
	GRPCAddr string
	Pop      PopulationView
	Events   *Broadcaster
}

type completedExtraConfig struct {
	*ExtraConfig
}

// complete fills in any fields not set that are required to have valid data.
func (c *ExtraConfig) complete() *completedExtraConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:9401"
	}
	if c.GRPCAddr == "" {
		c.GRPCAddr = "127.0.0.1:9402"
	}
	if c.Events == nil {
		c.Events = NewBroadcaster()
	}
	return &completedExtraConfig{c}
}

// Server is a running status dashboard: an HTTP server for JSON/SSE routes
// plus pprof, and a gRPC server exposing only the standard health/
// reflection services (so the same process can be probed with grpc-health-
// probe or grpcurl without shipping a domain-specific RPC surface).
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcLis    net.Listener
	events     *Broadcaster
}

// New builds a Server from a completed ExtraConfig.
func (c *completedExtraConfig) New() (*Server, error) {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())

	installRoutes(g, c.Pop, c.Events)
	pprof.Register(g)

	lis, err := net.Listen("tcp", c.GRPCAddr)
	if err != nil {
		return nil, err
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &Server{
		httpServer: &http.Server{Addr: c.Addr, Handler: g},
		grpcServer: grpcServer,
		grpcLis:    lis,
		events:     c.Events,
	}, nil
}

// NewServer is the Config→Complete→New entry point callers use directly.
func NewServer(cfg ExtraConfig) (*Server, error) {
	return cfg.complete().New()
}

// Start serves HTTP and gRPC in background goroutines, logging any
// unexpected (non-shutdown) listen errors.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("dashboard: http server: %v", err)
		}
	}()
	go func() {
		if err := s.grpcServer.Serve(s.grpcLis); err != nil {
			logger.Error("dashboard: grpc server: %v", err)
		}
	}()
	logger.Info("dashboard: serving http on %s, grpc on %s", s.httpServer.Addr, s.grpcLis.Addr())
}

// Stop gracefully shuts down both servers, bounding HTTP shutdown by ctx's
// deadline and force-stopping gRPC if it hasn't drained by then.
func (s *Server) Stop(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	return err
}

// Events returns the broadcaster the driver loop should Publish birth/death
// events onto.
func (s *Server) Events() *Broadcaster { return s.events }

// PublishBirth is a convenience wrapper over Events().Publish.
func (s *Server) PublishBirth(name string) {
	s.events.Publish(Event{Kind: EventBirth, Name: name})
}

// PublishDeath is a convenience wrapper over Events().Publish.
func (s *Server) PublishDeath(name string, score float64, ascension uint64) {
	s.events.Publish(Event{Kind: EventDeath, Name: name, Score: score, Ascension: ascension})
}

func stubName(s population.Stub) string {
	return strings.TrimSuffix(filepath.Base(s.Path), ".indiv")
}

// stubJSON is the wire shape for one stub in the members/leaderboard/
// hall-of-fame JSON responses: Path stays internal, Name is what a client
// actually wants to display.
type stubJSON struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Ascension uint64  `json:"ascension"`
}

func stubsJSON(stubs []population.Stub) []stubJSON {
	out := make([]stubJSON, len(stubs))
	for i, s := range stubs {
		out[i] = stubJSON{Name: stubName(s), Score: s.Score, Ascension: s.Ascension}
	}
	return out
}

const sseKeepAlive = 15 * time.Second

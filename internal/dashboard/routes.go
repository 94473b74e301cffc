package dashboard

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	hoststat "github.com/likexian/host-stat-go"
)

// installRoutes mirrors the teacher's initRouter/installMiddleware/
// installController split (internal/hivemind/router.go), adapted from an
// LLM chat gateway's /v1 routes to a population-inspection API.
func installRoutes(g *gin.Engine, pop PopulationView, events *Broadcaster) {
	installMiddleware(g)
	installStatusRoutes(g, pop)
	installEventRoutes(g, events)
}

func installMiddleware(g *gin.Engine) {
	g.Use(func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	})
}

func installStatusRoutes(g *gin.Engine, pop PopulationView) {
	api := g.Group("/api")
	{
		api.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"ascension":       pop.Ascension(),
				"generation":      pop.Generation(),
				"replacement":     pop.Replacement().String(),
				"population_size": pop.PopulationSize(),
			})
		})
		api.GET("/members", func(c *gin.Context) {
			c.JSON(http.StatusOK, stubsJSON(pop.Members()))
		})
		api.GET("/leaderboard", func(c *gin.Context) {
			c.JSON(http.StatusOK, stubsJSON(pop.Leaderboard()))
		})
		api.GET("/hall-of-fame", func(c *gin.Context) {
			c.JSON(http.StatusOK, stubsJSON(pop.HallOfFame()))
		})
		api.GET("/host", func(c *gin.Context) {
			c.JSON(http.StatusOK, hostSnapshot())
		})
	}
}

// installEventRoutes mounts the live birth/death SSE stream.
func installEventRoutes(g *gin.Engine, events *Broadcaster) {
	g.GET("/events", func(c *gin.Context) {
		sub, unsubscribe := events.Subscribe()
		defer unsubscribe()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-sub:
				if !ok {
					return false
				}
				c.SSEvent(string(ev.Kind), ev)
				return true
			case <-c.Request.Context().Done():
				return false
			case <-time.After(sseKeepAlive):
				c.SSEvent("ping", gin.H{})
				return true
			}
		})
	})
}

// hostSnapshot reads a best-effort snapshot of host CPU/memory stats for the
// dashboard's /api/host route. Errors are logged inline rather than failing
// the request — host telemetry is informational only.
func hostSnapshot() gin.H {
	snap := gin.H{}
	if cpu, err := hoststat.GetCPUInfo(); err == nil {
		snap["cpu"] = cpu
	}
	if mem, err := hoststat.GetMemInfo(); err == nil {
		snap["memory"] = mem
	}
	if load, err := hoststat.GetLoadInfo(); err == nil {
		snap["load"] = load
	}
	return snap
}

// Package adminhttp is the operational introspection surface (spec.md §6,
// "Supplemented" in SPEC_FULL.md §6): process liveness, stats, and room
// listing. It is explicitly not the client-facing matchmaking HTTP API the
// spec excludes — no join/create endpoints live here.
package adminhttp

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/config"
	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/matchmaker"
	"github.com/voidframe/roomserver/internal/stats"
)

// SetupRouter wires the admin endpoints the way the teacher wires its own
// router: gin.New, gin.Recovery, release mode outside devMode.
func SetupRouter(cfg *config.Config, s *stats.Stats, m *matchmaker.Matchmaker) *gin.Engine {
	if !cfg.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.DevMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "processId": cfg.ProcessID})
	})

	r.GET("/stats", func(c *gin.Context) {
		fleet, err := s.FetchAll()
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{
			"local":     s.Local(),
			"fleet":     fleet,
			"globalCcu": sumCCU(fleet),
		})
	})

	r.GET("/rooms", func(c *gin.Context) {
		rooms, err := listAllRooms(m)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"rooms": rooms})
	})

	log.Info().Str("module", "adminhttp").Str("addr", cfg.AdminAddr).Msg("admin router set up")
	return r
}

func sumCCU(fleet map[string]stats.Entry) int {
	total := 0
	for _, e := range fleet {
		total += e.CCU
	}
	return total
}

// listAllRooms merges the default listed-room query with an explicit
// unlisted-room query, since driver.matches excludes unlisted rooms by
// default (spec.md §9 open question) and the admin surface wants full
// operational visibility. Both go through the matchmaker's public Query
// operation (spec.md §4.5) rather than reaching into the driver directly.
func listAllRooms(m *matchmaker.Matchmaker) ([]driver.RoomCache, error) {
	listed, err := m.Query(driver.Conditions{}, &driver.Sort{Field: "clients", Desc: true})
	if err != nil {
		return nil, err
	}
	yes := true
	unlisted, err := m.Query(driver.Conditions{Unlisted: &yes}, &driver.Sort{Field: "clients", Desc: true})
	if err != nil {
		return nil, err
	}
	return append(listed, unlisted...), nil
}

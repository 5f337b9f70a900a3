package system

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chirino/cartography/internal/view"
	registryroute "github.com/chirino/cartography/internal/registry/route"
)

var ready atomic.Bool

// MarkReady signals that the store, policy and index sync are up. Call this
// once StartServer has completed successfully.
func MarkReady() {
	ready.Store(true)
}

// MarkStopping flips readiness back off while the server drains.
func MarkStopping() {
	ready.Store(false)
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Order: 0,
		Kind:  registryroute.KindProbe,
		Paths: []string{"/health", "/ready", "/metrics"},
		Loader: func(r *gin.Engine) error {
			// Liveness: process is up
			r.GET("/health", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"status": "ok"})
			})

			// Readiness: service has finished initializing
			r.GET("/ready", func(c *gin.Context) {
				if ready.Load() {
					c.JSON(http.StatusOK, gin.H{"status": "ready", "views": view.Names()})
				} else {
					c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
				}
			})

			r.GET("/metrics", gin.WrapH(promhttp.Handler()))

			return nil
		},
	})
}

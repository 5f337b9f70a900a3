package aliases

import (
	"net/http"

	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/plugin/route/apierr"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts alias resolution endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *entity.Engine) {
	g := r.Group("/v1/aliases")

	// Identify: the document currently holding the label.
	g.GET("/:label", func(c *gin.Context) {
		ref, err := engine.Aliases().Identify(c.Request.Context(), c.Param("label"))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, ref)
	})

	// Lookup: the current state of that document.
	g.GET("/:label/situation", func(c *gin.Context) {
		fields, err := engine.Aliases().Lookup(c.Request.Context(), c.Param("label"))
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, fields)
	})
}

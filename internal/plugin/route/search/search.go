package search

import (
	"net/http"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/route/apierr"
	registrysearch "github.com/chirino/cartography/internal/registry/search"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/service"
	"github.com/gin-gonic/gin"
)

var searchable = map[string]bool{
	model.TypeSituation:    true,
	model.TypeRelationship: true,
	model.TypeChange:       true,
}

// MountRoutes mounts search routes. A nil index leaves search unmounted.
func MountRoutes(r *gin.Engine, index registrysearch.Index, sync *service.IndexSync, collection string) {
	if index == nil {
		return
	}
	g := r.Group("/v1")

	g.GET("/search/:type", func(c *gin.Context) {
		docType := c.Param("type")
		if !searchable[docType] {
			apierr.Write(c, &registrystore.ValidationError{Field: "type", Message: "not a searchable type: " + docType})
			return
		}
		limit := apierr.IntQuery(c, "limit", 20)
		if limit == 0 {
			limit = 20
		}
		hits, err := index.Search(c.Request.Context(), collection, docType, c.Query("q"), limit)
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	})

	g.GET("/index-sync", func(c *gin.Context) {
		cp, err := sync.Progress(c.Request.Context())
		if err != nil {
			apierr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, cp)
	})
}

package relationships

import (
	"net/http"

	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/route/apierr"
	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Cause       string `json:"cause" binding:"required"`
	Effect      string `json:"effect" binding:"required"`
	Description string `json:"description"`
}

type descriptionRequest struct {
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// MountRoutes mounts the relationship REST endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *entity.Engine) {
	g := r.Group("/v1/relationships")

	g.POST("", func(c *gin.Context) { createRelationship(c, engine) })
	g.GET("/:id", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Read(c.Request.Context()) })
	})
	g.GET("/:id/summary", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Summarize(c.Request.Context()) })
	})
	g.GET("/:id/changes", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) {
			changes, err := rel.Changes(c.Request.Context())
			return gin.H{"changes": changes}, err
		})
	})
	g.GET("/:id/strength", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) {
			strength, err := rel.Strength(c.Request.Context())
			return gin.H{"strength": strength}, err
		})
	})
	g.PUT("/:id/description", func(c *gin.Context) { describe(c, engine) })
	g.POST("/:id/marks/:mark", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Mark(c.Request.Context(), c.Param("mark")) })
	})
	g.DELETE("/:id/marks/:mark", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Unmark(c.Request.Context(), c.Param("mark")) })
	})
	g.POST("/:id/strengthen", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Strengthen(c.Request.Context()) })
	})
	g.POST("/:id/weaken", func(c *gin.Context) {
		withRelationship(c, engine, func(rel *entity.Relationship) (any, error) { return rel.Weaken(c.Request.Context()) })
	})
	g.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		if !apierr.RequireDoc(c, engine, id, model.TypeRelationship) {
			return
		}
		if err := engine.Relationship(id).Delete(c.Request.Context()); err != nil {
			apierr.Write(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func createRelationship(c *gin.Context, engine *entity.Engine) {
	var req createRequest
	if !apierr.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	rel := engine.NewRelationship(req.Cause, req.Effect)
	if err := rel.Create(ctx); err != nil {
		apierr.Write(c, err)
		return
	}
	if req.Description != "" {
		if _, err := rel.Description(ctx, req.Description); err != nil {
			apierr.Write(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"id": rel.ID()})
}

func describe(c *gin.Context, engine *entity.Engine) {
	var req descriptionRequest
	if !apierr.Bind(c, &req) {
		return
	}
	withRelationship(c, engine, func(rel *entity.Relationship) (any, error) {
		if req.Reason != "" {
			return rel.Change(c.Request.Context(), "description", req.Description,
				entity.WithSummary("Changed description"), entity.WithReason(req.Reason))
		}
		return rel.Description(c.Request.Context(), req.Description)
	})
}

func withRelationship(c *gin.Context, engine *entity.Engine, fn func(rel *entity.Relationship) (any, error)) {
	id := c.Param("id")
	if !apierr.RequireDoc(c, engine, id, model.TypeRelationship) {
		return
	}
	result, err := fn(engine.Relationship(id))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

package situations

import (
	"encoding/json"
	"net/http"

	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/route/apierr"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Location    *string         `json:"location"`
	Period      json.RawMessage `json:"period"`
	Tags        []string        `json:"tags" binding:"omitempty,dive,required"`
	Alias       *string         `json:"alias"`
	Reason      string          `json:"reason"`
}

type changeRequest struct {
	To      json.RawMessage `json:"to" binding:"required"`
	Summary string          `json:"summary"`
	Reason  string          `json:"reason"`
}

type aliasRequest struct {
	Alias  string `json:"alias" binding:"required"`
	Reason string `json:"reason"`
}

// MountRoutes mounts the situation REST endpoints on the given router.
func MountRoutes(r *gin.Engine, engine *entity.Engine) {
	g := r.Group("/v1/situations")

	g.POST("", func(c *gin.Context) { createSituation(c, engine) })
	g.GET("", func(c *gin.Context) { listSituations(c, engine) })
	g.GET("/:id", func(c *gin.Context) { readSituation(c, engine) })
	g.GET("/:id/summary", func(c *gin.Context) { summarizeSituation(c, engine) })
	g.GET("/:id/changes", func(c *gin.Context) { listChanges(c, engine) })
	g.GET("/:id/relationships", func(c *gin.Context) { listRelationships(c, engine) })
	g.PUT("/:id/fields/:field", func(c *gin.Context) { changeField(c, engine) })
	g.PUT("/:id/alias", func(c *gin.Context) { assignAlias(c, engine) })
	g.POST("/:id/tags/:tag", func(c *gin.Context) {
		withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Tag(c.Request.Context(), c.Param("tag")) })
	})
	g.DELETE("/:id/tags/:tag", func(c *gin.Context) {
		withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Untag(c.Request.Context(), c.Param("tag")) })
	})
	g.POST("/:id/marks/:mark", func(c *gin.Context) {
		withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Mark(c.Request.Context(), c.Param("mark")) })
	})
	g.DELETE("/:id/marks/:mark", func(c *gin.Context) {
		withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Unmark(c.Request.Context(), c.Param("mark")) })
	})
	g.DELETE("/:id", func(c *gin.Context) { deleteSituation(c, engine) })
}

func createSituation(c *gin.Context, engine *entity.Engine) {
	var req createRequest
	if c.Request.ContentLength != 0 && !apierr.Bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	s := engine.NewSituation()
	if err := s.Create(ctx); err != nil {
		apierr.Write(c, err)
		return
	}

	var opts []entity.ChangeOption
	if req.Reason != "" {
		opts = append(opts, entity.WithReason(req.Reason))
	}
	steps := []func() error{}
	if req.Title != nil {
		steps = append(steps, func() error { _, err := s.Title(ctx, *req.Title, opts...); return err })
	}
	if req.Description != nil {
		steps = append(steps, func() error { _, err := s.Description(ctx, *req.Description, opts...); return err })
	}
	if req.Location != nil {
		steps = append(steps, func() error { _, err := s.Location(ctx, *req.Location, opts...); return err })
	}
	if len(req.Period) > 0 {
		steps = append(steps, func() error {
			period, err := decodeValue(req.Period)
			if err != nil {
				return err
			}
			_, err = s.Period(ctx, period, opts...)
			return err
		})
	}
	for _, tag := range req.Tags {
		steps = append(steps, func() error { _, err := s.Tag(ctx, tag); return err })
	}
	if req.Alias != nil {
		steps = append(steps, func() error { _, err := s.Alias(ctx, *req.Alias, opts...); return err })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			apierr.Write(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"id": s.ID()})
}

func listSituations(c *gin.Context, engine *entity.Engine) {
	ctx := c.Request.Context()
	ids, err := engine.List(ctx, model.TypeSituation, apierr.IntQuery(c, "limit", 50))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		summary, err := engine.Situation(id).Summarize(ctx)
		if registrystore.IsNotFound(err) {
			continue
		}
		if err != nil {
			apierr.Write(c, err)
			return
		}
		out = append(out, summary)
	}
	c.JSON(http.StatusOK, gin.H{"situations": out})
}

func readSituation(c *gin.Context, engine *entity.Engine) {
	withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Read(c.Request.Context()) })
}

func summarizeSituation(c *gin.Context, engine *entity.Engine) {
	withSituation(c, engine, func(s *entity.Situation) (any, error) { return s.Summarize(c.Request.Context()) })
}

func listChanges(c *gin.Context, engine *entity.Engine) {
	withSituation(c, engine, func(s *entity.Situation) (any, error) {
		changes, err := s.Changes(c.Request.Context())
		return gin.H{"changes": changes}, err
	})
}

func listRelationships(c *gin.Context, engine *entity.Engine) {
	withSituation(c, engine, func(s *entity.Situation) (any, error) {
		links, err := s.Relationships(c.Request.Context())
		return gin.H{"relationships": links}, err
	})
}

func changeField(c *gin.Context, engine *entity.Engine) {
	var req changeRequest
	if !apierr.Bind(c, &req) {
		return
	}
	to, err := decodeValue(req.To)
	if err != nil {
		apierr.Write(c, err)
		return
	}
	var opts []entity.ChangeOption
	if req.Summary != "" {
		opts = append(opts, entity.WithSummary(req.Summary))
	}
	if req.Reason != "" {
		opts = append(opts, entity.WithReason(req.Reason))
	}
	withSituation(c, engine, func(s *entity.Situation) (any, error) {
		return s.Change(c.Request.Context(), c.Param("field"), to, opts...)
	})
}

func assignAlias(c *gin.Context, engine *entity.Engine) {
	var req aliasRequest
	if !apierr.Bind(c, &req) {
		return
	}
	var opts []entity.ChangeOption
	if req.Reason != "" {
		opts = append(opts, entity.WithReason(req.Reason))
	}
	withSituation(c, engine, func(s *entity.Situation) (any, error) {
		return s.Alias(c.Request.Context(), req.Alias, opts...)
	})
}

func deleteSituation(c *gin.Context, engine *entity.Engine) {
	id := c.Param("id")
	if !apierr.RequireDoc(c, engine, id, model.TypeSituation) {
		return
	}
	if err := engine.Situation(id).Delete(c.Request.Context()); err != nil {
		apierr.Write(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// withSituation runs fn on the situation named by the id path parameter and
// renders its result.
func withSituation(c *gin.Context, engine *entity.Engine, fn func(s *entity.Situation) (any, error)) {
	id := c.Param("id")
	if !apierr.RequireDoc(c, engine, id, model.TypeSituation) {
		return
	}
	result, err := fn(engine.Situation(id))
	if err != nil {
		apierr.Write(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func decodeValue(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &registrystore.ValidationError{Field: "to", Message: err.Error()}
	}
	return v, nil
}

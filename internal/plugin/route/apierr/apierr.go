// Package apierr renders service errors as JSON responses.
package apierr

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/entity"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/gin-gonic/gin"
)

// Status maps an error kind to its HTTP status.
func Status(kind registrystore.Kind) int {
	switch kind {
	case registrystore.KindForbidden:
		return http.StatusForbidden
	case registrystore.KindNotFound:
		return http.StatusNotFound
	case registrystore.KindAlreadyIs, registrystore.KindTaken, registrystore.KindConflict:
		return http.StatusConflict
	case registrystore.KindValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Write responds with {"code", "error"} for err.
func Write(c *gin.Context, err error) {
	kind := registrystore.KindOf(err)
	status := Status(kind)
	if status == http.StatusInternalServerError {
		log.Error("API error", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
		c.JSON(status, gin.H{"code": registrystore.KindUnknown, "error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"code": kind, "error": err.Error()})
}

// Bind decodes the JSON body into v, responding 400 on failure.
func Bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		Write(c, &registrystore.ValidationError{Field: "body", Message: err.Error()})
		return false
	}
	return true
}

// IntQuery returns the integer query parameter key, or def when absent or invalid.
func IntQuery(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

// RequireDoc responds 404 unless id is a live document of docType.
func RequireDoc(c *gin.Context, engine *entity.Engine, id, docType string) bool {
	doc, err := engine.Get(c.Request.Context(), id)
	if err == nil && doc.Type != docType {
		err = &registrystore.NotFoundError{Resource: docType, ID: id}
	}
	if err != nil {
		Write(c, err)
		return false
	}
	return true
}

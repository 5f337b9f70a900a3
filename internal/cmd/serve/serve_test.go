package serve

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestMaxBodySizeMiddleware_Enforces(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(maxBodySizeMiddleware(4))
	router.POST("/v1/situations", readBodyLengthHandler)

	req := httptest.NewRequest(http.MethodPost, "/v1/situations", strings.NewReader("0123456789"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/situations", strings.NewReader("012"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "3", rec.Body.String())
}

func readBodyLengthHandler(c *gin.Context) {
	n, err := io.Copy(io.Discard, c.Request.Body)
	if err != nil {
		c.Status(http.StatusRequestEntityTooLarge)
		return
	}
	c.String(http.StatusOK, "%d", n)
}

func TestStackOpensInMemoryDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SearchType = "memory"
	ctx := config.WithContext(context.Background(), &cfg)
	stack, err := Open(ctx, &cfg)
	require.NoError(t, err)
	defer stack.Close()

	gin.SetMode(gin.TestMode)
	sync := service.NewIndexSync(stack.Engine, stack.Notifier, stack.Index, cfg.SearchCollection)
	router, err := NewRouter(stack, sync)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/situations", strings.NewReader(`{"title":"Night march"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/situations/"+created["id"]+"/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Night march")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

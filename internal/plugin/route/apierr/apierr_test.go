package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestWriteMapsKindsToStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{registrystore.Forbidden("Immutable docs cannot be updated."), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("wrapped: %w", &registrystore.NotFoundError{Resource: "document", ID: "x"}), http.StatusNotFound, "not_found"},
		{&registrystore.AlreadyIsError{Field: "title", Value: "a"}, http.StatusConflict, "already_is"},
		{&registrystore.TakenError{Alias: "a", Owner: "s1"}, http.StatusConflict, "taken"},
		{&registrystore.ConflictError{Message: "document update conflict"}, http.StatusConflict, "conflict"},
		{&registrystore.ValidationError{Field: "body", Message: "bad"}, http.StatusBadRequest, "validation"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			Write(c, tc.err)

			require.Equal(t, tc.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.code, body["code"])
			if tc.status == http.StatusInternalServerError {
				require.Equal(t, "internal server error", body["error"])
			} else {
				require.Equal(t, tc.err.Error(), body["error"])
			}
		})
	}
}

func TestIntQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x&neg=-1", nil)
	require.Equal(t, 5, IntQuery(c, "limit", 50))
	require.Equal(t, 50, IntQuery(c, "bad", 50))
	require.Equal(t, 50, IntQuery(c, "neg", 50))
	require.Equal(t, 50, IntQuery(c, "missing", 50))
}

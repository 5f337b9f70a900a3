package situations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/plugin/store/memory"
	"github.com/chirino/cartography/internal/validate"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store, err := memory.New()
	require.NoError(t, err)
	pipeline, err := validate.New(context.Background(), store, "")
	require.NoError(t, err)
	r := gin.New()
	MountRoutes(r, entity.New(store, pipeline, nil, entity.Options{}))
	return r
}

func do(t *testing.T, r *gin.Engine, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestCreateAppliesInitialFields(t *testing.T) {
	r := newRouter(t)
	code, body := do(t, r, http.MethodPost, "/v1/situations",
		`{"title":"Student strike","location":"Montreal","tags":["education"],"alias":"maple-spring","reason":"catchy name"}`)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)

	code, body = do(t, r, http.MethodGet, "/v1/situations/"+id, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Student strike", body["title"])
	require.Equal(t, "Montreal", body["location"])
	require.Equal(t, []any{"education"}, body["tags"])
	require.Equal(t, "maple-spring", body["alias"])
	require.NotEmpty(t, body["revision_token"])

	code, body = do(t, r, http.MethodGet, "/v1/situations/"+id+"/changes", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["changes"], 4)
}

func TestChangeFieldErrors(t *testing.T) {
	r := newRouter(t)
	_, body := do(t, r, http.MethodPost, "/v1/situations", `{"title":"Protest"}`)
	id := body["id"].(string)

	code, body := do(t, r, http.MethodPut, "/v1/situations/"+id+"/fields/title", `{"to":"Protest"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_is", body["code"])

	code, body = do(t, r, http.MethodPut, "/v1/situations/"+id+"/fields/type", `{"to":"relationship"}`)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "forbidden", body["code"])

	code, body = do(t, r, http.MethodPut, "/v1/situations/"+id+"/fields/title", `{}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", body["code"])

	code, _ = do(t, r, http.MethodPut, "/v1/situations/missing/fields/title", `{"to":"x"}`)
	require.Equal(t, http.StatusNotFound, code)

	code, body = do(t, r, http.MethodPut, "/v1/situations/"+id+"/fields/title", `{"to":"Protests","reason":"plural"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "plural", body["reason"])
}

func TestAliasCollision(t *testing.T) {
	r := newRouter(t)
	_, a := do(t, r, http.MethodPost, "/v1/situations", `{"alias":"casseroles"}`)
	_, b := do(t, r, http.MethodPost, "/v1/situations", `{}`)

	code, body := do(t, r, http.MethodPut, "/v1/situations/"+b["id"].(string)+"/alias", `{"alias":"casseroles"}`)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "taken", body["code"])
	require.Contains(t, body["error"], a["id"].(string))
}

func TestDeleteAndList(t *testing.T) {
	r := newRouter(t)
	_, a := do(t, r, http.MethodPost, "/v1/situations", `{"title":"First"}`)
	_, b := do(t, r, http.MethodPost, "/v1/situations", `{"title":"Second"}`)

	code, body := do(t, r, http.MethodGet, "/v1/situations?limit=10", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["situations"], 2)

	code, _ = do(t, r, http.MethodDelete, "/v1/situations/"+a["id"].(string), "")
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, r, http.MethodGet, "/v1/situations/"+a["id"].(string), "")
	require.Equal(t, http.StatusNotFound, code)

	_, body = do(t, r, http.MethodGet, "/v1/situations", "")
	list := body["situations"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, b["id"], list[0].(map[string]any)["id"])
}

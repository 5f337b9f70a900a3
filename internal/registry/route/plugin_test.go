package route

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadersAreGroupedByKindAndOrdered(t *testing.T) {
	var mounted []string
	loader := func(name string) RouterLoader {
		return func(*gin.Engine) error {
			mounted = append(mounted, name)
			return nil
		}
	}
	Register(Plugin{Order: 20, Kind: KindAPI, Loader: loader("api-20")})
	Register(Plugin{Order: 0, Kind: KindProbe, Paths: []string{"/health"}, Loader: loader("probe")})
	Register(Plugin{Order: 10, Kind: KindAPI, Loader: loader("api-10")})

	r := gin.New()
	for _, l := range Loaders(KindAPI) {
		require.NoError(t, l(r))
	}
	assert.Equal(t, []string{"api-10", "api-20"}, mounted)

	mounted = nil
	for _, l := range Loaders(KindProbe) {
		require.NoError(t, l(r))
	}
	assert.Equal(t, []string{"probe"}, mounted)
	assert.Equal(t, []string{"/health"}, ProbePaths())
}

package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// Kind groups route plugins by when they are mounted.
type Kind int

const (
	// KindAPI routes are mounted before the document routes.
	KindAPI Kind = iota
	// KindProbe routes (health, readiness, metrics) are mounted last and
	// excluded from the access log.
	KindProbe
)

// Plugin is a route plugin. Plugins of the same kind mount in Order.
type Plugin struct {
	Order  int
	Kind   Kind
	Paths  []string
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

func ofKind(kind Kind) []Plugin {
	mu.Lock()
	defer mu.Unlock()
	var out []Plugin
	for _, p := range plugins {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Loaders returns the loaders of kind, sorted by order.
func Loaders(kind Kind) []RouterLoader {
	var loaders []RouterLoader
	for _, p := range ofKind(kind) {
		loaders = append(loaders, p.Loader)
	}
	return loaders
}

// ProbePaths lists the paths served by KindProbe plugins.
func ProbePaths() []string {
	var paths []string
	for _, p := range ofKind(KindProbe) {
		paths = append(paths, p.Paths...)
	}
	return paths
}

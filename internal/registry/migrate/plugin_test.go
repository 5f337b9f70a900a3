package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	name string
	log  *[]string
	err  error
}

func (r recorder) Name() string { return r.name }
func (r recorder) Migrate(context.Context) error {
	*r.log = append(*r.log, r.name)
	return r.err
}

func TestRunAllOrdersAndStops(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 200, Migrator: recorder{name: "index", log: &ran}})
	Register(Plugin{Order: 100, Migrator: recorder{name: "schema", log: &ran}})
	require.Equal(t, []string{"schema", "index"}, Names())
	require.NoError(t, RunAll(context.Background()))
	require.Equal(t, []string{"schema", "index"}, ran)

	ran = nil
	Register(Plugin{Order: 150, Migrator: recorder{name: "broken", log: &ran, err: errors.New("boom")}})
	err := RunAll(context.Background())
	require.ErrorContains(t, err, "migration broken failed: boom")
	require.Equal(t, []string{"schema", "broken"}, ran)
}

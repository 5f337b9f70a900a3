package none

import (
	"context"

	registrysearch "github.com/chirino/cartography/internal/registry/search"
)

func init() {
	registrysearch.Register(registrysearch.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (registrysearch.Index, error) {
			return &index{}, nil
		},
	})
}

type index struct{}

func (*index) Index(context.Context, string, string, string, map[string]any) error { return nil }
func (*index) Delete(context.Context, string, string, string) error                 { return nil }
func (*index) Search(context.Context, string, string, string, int) ([]registrysearch.Hit, error) {
	return []registrysearch.Hit{}, nil
}
func (*index) Close() error { return nil }

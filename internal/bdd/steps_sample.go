// Package bdd runs the feature files against a live server.
package bdd

import (
	"context"
	"fmt"

	"github.com/chirino/cartography/internal/cmd/serve"
	"github.com/chirino/cartography/internal/sample"
	"github.com/chirino/cartography/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		ctx.Step(`^the Quebec sample map is loaded$`, func() error { return loadSample(s) })
	})
}

// loadSample writes the sample map through the running server's engine and
// stores each situation id as ${<key>} and the relationship ids as
// ${relationship0}, ${relationship1}.
func loadSample(s *cucumber.TestScenario) error {
	srv, ok := s.Suite.Extra["server"].(*serve.Server)
	if !ok {
		return fmt.Errorf("no running server in the suite")
	}
	res, err := sample.Load(context.Background(), srv.Stack.Engine)
	if err != nil {
		return err
	}
	for key, id := range res.Situations {
		s.Variables[key] = id
	}
	for i, id := range res.Relationships {
		s.Variables[fmt.Sprintf("relationship%d", i)] = id
	}
	return nil
}

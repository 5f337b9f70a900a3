// Package sample loads a small map of the 2012 Quebec student protests.
package sample

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/entity"
)

type situation struct {
	key         string
	title       string
	alias       string
	aliasReason string
	location    string
	period      string
	description string
	tags        []string
	marks       []string
}

type relationship struct {
	cause, effect string
	description   string
	// strength is applied as repeated strengthen or weaken adjustments.
	strength int
}

var situations = []situation{
	{
		key:      "protests",
		title:    "Québec Student Protests",
		alias:    "quebec-student-protests",
		location: "Montréal, QC",
		period:   "Summer 2012",
		tags:     []string{"Maple Spring"},
		marks:    []string{"controversial"},
	},
	{
		key:      "law",
		title:    "National Assembly of Quebec Passes Bill 78",
		alias:    "national-assembly-of-quebec-passes-bill-78",
		period:   "May 18th, 2012",
		location: "Québec",
	},
	{
		key:         "casserole",
		title:       "Casserole Protests",
		alias:       "casserole-protests",
		aliasReason: "catchy name",
		location:    "Montreal, QC",
		tags:        []string{"Maple Spring"},
		description: "Montreal residents banged on pots and pans in an act of defiance against the recently passed Law 78.",
	},
}

var relationships = []relationship{
	{
		cause:    "protests",
		effect:   "law",
		strength: 1,
		description: "The law restricts protest or picketing on or near university grounds. " +
			"The law further requires that organizers of a protest, consisting of 50 or more people " +
			"in a public venue anywhere in Quebec, submit their proposed venue and/or route to the " +
			"relevant police for approval.",
	},
	{
		cause:       "law",
		effect:      "casserole",
		strength:    -1,
		description: "Casserole protests started just after the law was passed. Signs condemning law 78 could be seen.",
	},
}

// Result maps sample keys to the ids they were stored under.
type Result struct {
	Situations    map[string]string
	Relationships []string
}

// Load writes the sample situations and relationships through engine.
func Load(ctx context.Context, engine *entity.Engine) (*Result, error) {
	res := &Result{Situations: map[string]string{}}
	for _, def := range situations {
		s := engine.NewSituation()
		if err := s.Create(ctx); err != nil {
			return nil, fmt.Errorf("sample %s: %w", def.key, err)
		}
		if err := fill(ctx, s, def); err != nil {
			return nil, fmt.Errorf("sample %s: %w", def.key, err)
		}
		res.Situations[def.key] = s.ID()
		log.Debug("Sample situation loaded", "key", def.key, "id", s.ID())
	}

	for _, def := range relationships {
		rel := engine.NewRelationship(res.Situations[def.cause], res.Situations[def.effect])
		if err := rel.Create(ctx); err != nil {
			return nil, fmt.Errorf("sample %s->%s: %w", def.cause, def.effect, err)
		}
		if _, err := rel.Description(ctx, def.description); err != nil {
			return nil, fmt.Errorf("sample %s->%s: %w", def.cause, def.effect, err)
		}
		for i := 0; i < def.strength; i++ {
			if _, err := rel.Strengthen(ctx); err != nil {
				return nil, err
			}
		}
		for i := 0; i > def.strength; i-- {
			if _, err := rel.Weaken(ctx); err != nil {
				return nil, err
			}
		}
		res.Relationships = append(res.Relationships, rel.ID())
	}
	return res, nil
}

func fill(ctx context.Context, s *entity.Situation, def situation) error {
	if _, err := s.Title(ctx, def.title); err != nil {
		return err
	}
	if def.alias != "" {
		var opts []entity.ChangeOption
		if def.aliasReason != "" {
			opts = append(opts, entity.WithReason(def.aliasReason))
		}
		if _, err := s.Alias(ctx, def.alias, opts...); err != nil {
			return err
		}
	}
	if def.location != "" {
		if _, err := s.Location(ctx, def.location); err != nil {
			return err
		}
	}
	if def.period != "" {
		if _, err := s.Period(ctx, def.period); err != nil {
			return err
		}
	}
	if def.description != "" {
		if _, err := s.Description(ctx, def.description); err != nil {
			return err
		}
	}
	for _, tag := range def.tags {
		if _, err := s.Tag(ctx, tag); err != nil {
			return err
		}
	}
	for _, mark := range def.marks {
		if _, err := s.Mark(ctx, mark); err != nil {
			return err
		}
	}
	return nil
}

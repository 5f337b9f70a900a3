package validate

import (
	"context"
	"fmt"
	"testing"

	"github.com/open-policy-agent/opa/rego"
	"github.com/stretchr/testify/require"
)

const policyAssertionsRego = `
package cartography.tests

import future.keywords.if
import future.keywords.in

change(doc_type, name, to) := {
	"id": "c1",
	"type": "change",
	"immutable": true,
	"creation_date": 1,
	"changed": {"doc": {"id": "s1", "type": doc_type}, "field": {"name": name, "to": to}}
}

test_allows_title_change if {
	count(data.cartography.validate.deny) == 0 with input as {"doc": change("situation", "title", "Strike")}
}

test_denies_protected_field if {
	"Changes to a document's 'creation_date' are not allowed." in data.cartography.validate.deny with input as {"doc": change("situation", "creation_date", 5)}
}

test_denies_long_title if {
	"A situation's title may be no more than 115 characters long." in data.cartography.validate.deny with input as {"doc": change("situation", "title", concat("", [x | numbers.range(1, 116)[_]; x := "a"]))}
}

test_denies_non_string_location if {
	"A situation's location must be a string." in data.cartography.validate.deny with input as {"doc": change("situation", "location", 12)}
}

test_denies_non_string_tags if {
	"A situation's 'tags' field may only contain strings." in data.cartography.validate.deny with input as {"doc": change("situation", "tags", ["a", 1])}
}

test_allows_empty_tags if {
	count(data.cartography.validate.deny) == 0 with input as {"doc": change("situation", "tags", [])}
}

test_denies_empty_alias if {
	"A situation's alias must be a non-empty string." in data.cartography.validate.deny with input as {"doc": change("situation", "alias", "")}
}

test_denies_reserved_alias if {
	"A situation's alias may not start with '_'." in data.cartography.validate.deny with input as {"doc": change("situation", "alias", "_local/index-sync")}
}

test_denies_reserved_alias_doc if {
	"An alias' id may not start with '_'." in data.cartography.validate.deny with input as {"doc": {"id": "_local/index-sync", "type": "alias", "immutable": true, "creation_date": 1, "target": {"doc": {"id": "s1", "type": "situation"}}}}
}

test_denies_relationship_cause_change if {
	"A relationship's 'cause' cannot be changed." in data.cartography.validate.deny with input as {"doc": change("relationship", "cause", {"id": "s2"})}
}

test_denies_change_to_non_revisable if {
	"Documents of type 'alias' are not revisable." in data.cartography.validate.deny with input as {"doc": change("alias", "target", "x")}
}

test_allows_situation_without_fields if {
	count(data.cartography.validate.deny) == 0 with input as {"doc": {"id": "s1", "type": "situation", "immutable": true, "revisable": true, "creation_date": 1}}
}
`

func TestDefaultPolicyRegoAssertions(t *testing.T) {
	modules := map[string]string{
		"validate.rego": defaultPolicy,
		"tests.rego":    policyAssertionsRego,
	}
	testRules := []string{
		"test_allows_title_change",
		"test_denies_protected_field",
		"test_denies_long_title",
		"test_denies_non_string_location",
		"test_denies_non_string_tags",
		"test_allows_empty_tags",
		"test_denies_empty_alias",
		"test_denies_reserved_alias",
		"test_denies_reserved_alias_doc",
		"test_denies_relationship_cause_change",
		"test_denies_change_to_non_revisable",
		"test_allows_situation_without_fields",
	}

	for _, rule := range testRules {
		t.Run(rule, func(t *testing.T) {
			query := fmt.Sprintf("data.cartography.tests.%s", rule)
			if !evalRegoBoolean(t, modules, query) {
				t.Fatalf("rego assertion failed: %s", query)
			}
		})
	}
}

func evalRegoBoolean(t *testing.T, modules map[string]string, query string) bool {
	t.Helper()
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	results, err := rego.New(opts...).Eval(context.Background())
	if err != nil {
		t.Fatalf("eval %s: %v", query, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		t.Fatalf("eval %s: no result", query)
	}
	v, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		t.Fatalf("eval %s: expected bool, got %T", query, results[0].Expressions[0].Value)
	}
	return v
}

func TestPolicyDirOverride(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPolicy(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, defaultPolicy, p.source())

	err = p.replace(context.Background(), "package cartography.validate\n\ndeny[msg] { msg := \"closed\" }\n")
	require.NoError(t, err)
	msgs, err := p.Deny(context.Background(), map[string]any{"type": "situation"})
	require.NoError(t, err)
	require.Equal(t, []string{"closed"}, msgs)
}

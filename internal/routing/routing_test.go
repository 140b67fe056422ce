package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTable(t *testing.T) {
	table := Default()
	cases := map[string]string{
		"create-prd":    "libretto",
		"create-spec":   "amadeus",
		"dev-story":     "coda",
		"code-review":   "rondo",
		"review-api":    "rondo",
		"dev-migration": "coda",
	}
	for step, want := range cases {
		got, ok := table.Resolve(step)
		require.True(t, ok, "step %s", step)
		require.Equal(t, want, got, "step %s", step)
	}
	_, ok := table.Resolve("write-poem")
	require.False(t, ok)
	require.Equal(t, Unassigned, table.PersonaFor("write-poem"))
}

func TestWithLayersOverrides(t *testing.T) {
	base := Default()
	table, err := base.With([]Rule{
		{Pattern: "dev-story", Persona: "fugue"},
		{Pattern: "review-*", Persona: "cadenza"},
		{Pattern: "triage", Persona: "libretto"},
	})
	require.NoError(t, err)
	require.Equal(t, "fugue", table.PersonaFor("dev-story"))
	require.Equal(t, "cadenza", table.PersonaFor("review-ui"))
	require.Equal(t, "libretto", table.PersonaFor("triage"))

	require.Equal(t, "coda", base.PersonaFor("dev-story"), "base table must stay unchanged")
	require.Equal(t, "rondo", base.PersonaFor("review-ui"))
}

func TestNewRejectsIncompleteRoutes(t *testing.T) {
	_, err := New(map[string]string{"dev-story": " "}, nil)
	require.Error(t, err)
	_, err = Default().With([]Rule{{Pattern: "", Persona: "coda"}})
	require.Error(t, err)
}

func TestEntriesAreSorted(t *testing.T) {
	table, err := New(map[string]string{"b": "two", "a": "one"}, []Rule{{Pattern: "z-*", Persona: "three"}})
	require.NoError(t, err)
	require.Equal(t, []Rule{
		{Pattern: "a", Persona: "one"},
		{Pattern: "b", Persona: "two"},
		{Pattern: "z-*", Persona: "three"},
	}, table.Entries())
}

package envelope

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/overture/internal/workspace"
)

const testSession = "ses-20261019-120000-cafebabe"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ws := workspace.New(t.TempDir())
	require.NoError(t, ws.EnsureSession(testSession))
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	return NewStore(ws, WithClock(func() time.Time { return fixed }))
}

func delegation(seq int, target string) Payload {
	return Payload{
		Session:     testSession,
		Workflow:    "bmad-greenfield",
		Sequence:    seq,
		Type:        TypeDelegation,
		Step:        "create-prd",
		Source:      "maestro",
		Target:      target,
		Task:        "Write the PRD",
		Context:     "Greenfield onboarding flow",
		Constraints: []string{"Keep it under two pages", " ", "Cite the goal"},
	}
}

func TestWriteAndReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ref, meta, err := store.Write(delegation(1, "libretto"))
	require.NoError(t, err)
	require.Equal(t, "001-delegation-libretto", ref.ID)
	require.Equal(t, StatusPending, meta.Status)
	require.Equal(t, store.Path(testSession, ref.ID), ref.Path)

	env, err := store.Read(ref.Path)
	require.NoError(t, err)
	require.Equal(t, ref.ID, env.ID)
	require.Equal(t, testSession, env.Session)
	require.Equal(t, 1, env.Sequence)
	require.Equal(t, "maestro", env.Source)
	require.Equal(t, "libretto", env.Target)
	require.Equal(t, "Write the PRD", env.Task)
	require.Equal(t, []string{"Keep it under two pages", "Cite the goal"}, env.Constraints)
	require.True(t, env.CreatedAt.Equal(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)))
}

func TestWriteAvoidsCollisions(t *testing.T) {
	store := newTestStore(t)
	first, _, err := store.Write(delegation(2, "amadeus"))
	require.NoError(t, err)
	second, _, err := store.Write(delegation(2, "amadeus"))
	require.NoError(t, err)
	require.Equal(t, "002-delegation-amadeus", first.ID)
	require.Equal(t, "002-delegation-amadeus-2", second.ID)

	entry, ok := ParseName(second.ID + ".md")
	require.True(t, ok)
	require.Equal(t, "amadeus", entry.Persona)
	require.Equal(t, 2, entry.Sequence)
}

func TestWriteRejectsIncompletePayload(t *testing.T) {
	store := newTestStore(t)
	bad := delegation(0, "coda")
	_, _, err := store.Write(bad)
	require.Error(t, err)
	bad = delegation(1, "")
	_, _, err = store.Write(bad)
	require.Error(t, err)
	bad = delegation(1, "coda")
	bad.Type = "memo"
	_, _, err = store.Write(bad)
	require.Error(t, err)
}

func TestScanOrdersBySequence(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []Payload{delegation(3, "coda"), delegation(1, "libretto"), delegation(2, "amadeus")} {
		_, _, err := store.Write(p)
		require.NoError(t, err)
	}
	result := Payload{Session: testSession, Sequence: 1, Type: TypeResult, Source: "libretto", Target: "maestro", Output: "done"}
	_, meta, err := store.Write(result)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, meta.Status)

	dir := filepath.Dir(store.Path(testSession, "x"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	entries, err := store.Scan(testSession)
	require.NoError(t, err)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{
		"001-delegation-libretto",
		"001-result-libretto",
		"002-delegation-amadeus",
		"003-delegation-coda",
	}, ids)
}

func TestScanMissingSession(t *testing.T) {
	store := newTestStore(t)
	entries, err := store.Scan("ses-20261019-120000-00000000")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestValidate(t *testing.T) {
	store := newTestStore(t)
	ref, _, err := store.Write(delegation(1, "libretto"))
	require.NoError(t, err)
	res, err := store.Validate(ref.Path)
	require.NoError(t, err)
	require.True(t, res.Valid(), "errors: %v", res.Errors)
	require.Empty(t, res.Warnings)

	result, _, err := store.Write(Payload{Session: testSession, Sequence: 1, Type: TypeResult, Source: "libretto", Target: "maestro"})
	require.NoError(t, err)
	res, err = store.Validate(result.Path)
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.Contains(t, res.Errors, "result envelope has no Output section")
	require.Contains(t, res.Warnings, "Context section is empty")

	broken := filepath.Join(filepath.Dir(ref.Path), "002-result-amadeus.md")
	require.NoError(t, os.WriteFile(broken, []byte("no frontmatter here"), 0o644))
	res, err = store.Validate(broken)
	require.NoError(t, err)
	require.False(t, res.Valid())
	require.False(t, res.Parsed)

	_, err = store.Validate(filepath.Join(filepath.Dir(ref.Path), "009-result-nobody.md"))
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestParseErrors(t *testing.T) {
	_, _, err := Parse(nil)
	require.ErrorIs(t, err, ErrMissingFrontMatter)
	_, _, err = Parse([]byte("---\nenvelope: {id: x}\n"))
	require.ErrorIs(t, err, ErrMalformedFrontMatter)
	_, _, err = Parse([]byte("---\nenvelope:\n  id: x\n---\n"))
	require.ErrorIs(t, err, ErrMalformedFrontMatter)
}

func TestResolve(t *testing.T) {
	store := newTestStore(t)
	require.Equal(t, "", store.Resolve(testSession, " "))
	require.Equal(t, store.Path(testSession, "001-result-coda"), store.Resolve(testSession, "001-result-coda"))
	inside := store.Path(testSession, "002-result-coda")
	require.Equal(t, inside, store.Resolve(testSession, inside))
}

func TestResolveStaysInsideSession(t *testing.T) {
	store := newTestStore(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.md")
	require.Equal(t, "", store.Resolve(testSession, outside))
	escape := filepath.Join(filepath.Dir(store.Path(testSession, "x")), "..", "index.md")
	require.Equal(t, "", store.Resolve(testSession, escape))
	require.Equal(t, "", store.Resolve(testSession, "../../config.yaml"))
	require.Equal(t, "", store.Resolve("../../elsewhere", "001-result-coda"))
}

func TestWriteRejectsInvalidSession(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Write(Payload{Session: "../../../escaped", Sequence: 1, Type: TypeDelegation, Source: "maestro", Target: "coda", Task: "x"})
	require.ErrorIs(t, err, workspace.ErrInvalidSessionID)
	_, err = store.Scan("../escaped")
	require.ErrorIs(t, err, workspace.ErrInvalidSessionID)
}

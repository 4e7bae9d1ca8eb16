package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonical/python-module-explorer/internal/introspect"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "explorer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Close()) })
	return s
}

func createEnv(t *testing.T, s *Store, name string) *Environment {
	t.Helper()
	env, err := s.CreateEnvironment(context.Background(), Environment{Name: name, Path: "/envs/" + name, PythonVersion: "3.12.3"})
	require.NoError(t, err)
	return env
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explorer.db")
	s, err := Open(path)
	require.NoError(t, err)
	createEnv(t, s, "one")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	envs, err := s.ListEnvironments(context.Background())
	require.NoError(t, err)
	assert.Len(t, envs, 1)
	assert.Equal(t, path, s.Path())
}

func TestEnvironmentCRUD(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)

	env := createEnv(t, s, "science")
	assert.NotEmpty(t, env.ID)
	assert.WithinDuration(t, time.Now(), env.CreatedAt, time.Minute)

	got, err := s.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, "science", got.Name)
	assert.Equal(t, "/envs/science", got.Path)
	assert.Equal(t, "3.12.3", got.PythonVersion)
	assert.WithinDuration(t, env.CreatedAt, got.CreatedAt, time.Second)

	byName, err := s.EnvironmentByName(ctx, "science")
	require.NoError(t, err)
	assert.Equal(t, env.ID, byName.ID)

	_, err = s.CreateEnvironment(ctx, Environment{Name: "science", Path: "/elsewhere"})
	assert.ErrorIs(t, err, ErrExists)

	_, err = s.CreateEnvironment(ctx, Environment{Name: "nopath"})
	assert.Error(t, err)

	createEnv(t, s, "web")
	envs, err := s.ListEnvironments(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, "science", envs[0].Name)

	require.NoError(t, s.DeleteEnvironment(ctx, env.ID))
	_, err = s.GetEnvironment(ctx, env.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteEnvironment(ctx, env.ID), ErrNotFound)
}

func TestGetMissingEnvironment(t *testing.T) {
	s := setupStore(t)
	_, err := s.GetEnvironment(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.EnvironmentByName(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPackages(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	env := createEnv(t, s, "e")

	first, err := s.AddPackage(ctx, env.ID, "requests", "2.31.0")
	require.NoError(t, err)
	_, err = s.AddPackage(ctx, env.ID, "Flask", "")
	require.NoError(t, err)
	again, err := s.AddPackage(ctx, env.ID, "requests", "2.32.3")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	pkgs, err := s.ListPackages(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, pkgs, 2)
	assert.Equal(t, "Flask", pkgs[0].Name)
	assert.Equal(t, "requests", pkgs[1].Name)
	assert.Equal(t, "2.32.3", pkgs[1].Version)

	_, err = s.AddPackage(ctx, "missing", "requests", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttributesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	env := createEnv(t, s, "e")

	_, err := s.Attributes(ctx, env.ID, "math")
	assert.ErrorIs(t, err, ErrNotFound)

	attrs := []introspect.Attribute{
		{Name: "pi", Type: "float"},
		{Name: "sqrt", Type: "builtin_function_or_method", DocString: "Return the square root of x."},
		{Name: "e", Type: "float"},
	}
	require.NoError(t, s.SaveAttributes(ctx, env.ID, "math", attrs))

	got, err := s.Attributes(ctx, env.ID, "math")
	require.NoError(t, err)
	assert.Equal(t, attrs, got)

	// A second save replaces the set.
	require.NoError(t, s.SaveAttributes(ctx, env.ID, "math", attrs[:1]))
	got, err = s.Attributes(ctx, env.ID, "math")
	require.NoError(t, err)
	assert.Equal(t, attrs[:1], got)

	// An empty namespace is stored, not missing.
	require.NoError(t, s.SaveAttributes(ctx, env.ID, "empty", nil))
	got, err = s.Attributes(ctx, env.ID, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.SaveAttributes(ctx, "missing", "math", attrs), ErrNotFound)
}

func TestHelpRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	env := createEnv(t, s, "e")

	require.NoError(t, s.SaveAttributes(ctx, env.ID, "math", nil))
	_, err := s.Help(ctx, env.ID, "math")
	assert.ErrorIs(t, err, ErrNotFound, "attributes alone do not provide help")

	require.NoError(t, s.SaveHelp(ctx, env.ID, "math", "Help on module math:\n"))
	help, err := s.Help(ctx, env.ID, "math")
	require.NoError(t, err)
	assert.Equal(t, "Help on module math:\n", help)

	// Saving help keeps the attributes.
	_, err = s.Attributes(ctx, env.ID, "math")
	assert.NoError(t, err)

	require.NoError(t, s.SaveHelp(ctx, env.ID, "json", ""))
	help, err = s.Help(ctx, env.ID, "json")
	require.NoError(t, err)
	assert.Equal(t, "", help)

	names, err := s.ModuleNames(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"json", "math"}, names)

	assert.ErrorIs(t, s.SaveHelp(ctx, "missing", "math", "x"), ErrNotFound)
}

func TestDeleteEnvironmentCascades(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	env := createEnv(t, s, "e")
	other := createEnv(t, s, "other")

	for _, id := range []string{env.ID, other.ID} {
		_, err := s.AddPackage(ctx, id, "requests", "")
		require.NoError(t, err)
		require.NoError(t, s.SaveAttributes(ctx, id, "math", []introspect.Attribute{{Name: "pi", Type: "float"}}))
		require.NoError(t, s.SaveHelp(ctx, id, "math", "help"))
	}

	require.NoError(t, s.DeleteEnvironment(ctx, env.ID))

	pkgs, err := s.ListPackages(ctx, env.ID)
	require.NoError(t, err)
	assert.Empty(t, pkgs)
	names, err := s.ModuleNames(ctx, env.ID)
	require.NoError(t, err)
	assert.Empty(t, names)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM attributes WHERE env_id = ?`, env.ID).Scan(&n))
	assert.Zero(t, n)

	attrs, err := s.Attributes(ctx, other.ID, "math")
	require.NoError(t, err)
	assert.Len(t, attrs, 1)
}

func TestClearModules(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	env := createEnv(t, s, "e")

	require.NoError(t, s.SaveHelp(ctx, env.ID, "math", "help"))
	require.NoError(t, s.ClearModules(ctx, env.ID))

	_, err := s.Help(ctx, env.ID, "math")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetEnvironment(ctx, env.ID)
	assert.NoError(t, err)
}

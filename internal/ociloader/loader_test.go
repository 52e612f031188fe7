package ociloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileBarePath(t *testing.T) {
	srcDir := t.TempDir()
	pluginDir := t.TempDir()

	srcPath := filepath.Join(srcDir, "my-component.wasm")
	require.NoError(t, os.WriteFile(srcPath, []byte("\x00asm"), 0o644))

	loader := New(pluginDir)
	result, err := loader.Load(context.Background(), srcPath)
	require.NoError(t, err)

	assert.Equal(t, "my-component", result.ComponentID)
	assert.FileExists(t, result.ArtifactPath)

	data, err := os.ReadFile(result.ArtifactPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x00asm"), data)

	assert.FileExists(t, srcPath, "loading a bare path must copy it, not consume the caller's original file")
}

func TestPlaceByCopyLeavesSourceIntact(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	src := filepath.Join(srcDir, "comp.wasm")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dest := filepath.Join(destDir, "comp.wasm")
	require.NoError(t, placeByCopy(src, dest))

	assert.FileExists(t, src)
	assert.FileExists(t, dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPlaceAtomicallyConsumesSource(t *testing.T) {
	srcDir := t.TempDir()
	destDir := t.TempDir()
	src := filepath.Join(srcDir, "staged.wasm")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dest := filepath.Join(destDir, "comp.wasm")
	require.NoError(t, placeAtomically(src, dest))

	assert.FileExists(t, dest)
	assert.NoFileExists(t, src, "placeAtomically owns src and must not leave it behind")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestLoadFileURIScheme(t *testing.T) {
	srcDir := t.TempDir()
	pluginDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "calculator.wasm")
	require.NoError(t, os.WriteFile(srcPath, []byte("x"), 0o644))

	loader := New(pluginDir)
	result, err := loader.Load(context.Background(), "file://"+srcPath)
	require.NoError(t, err)
	assert.Equal(t, "calculator", result.ComponentID)
}

func TestComponentIDSanitizesUnsafeCharacters(t *testing.T) {
	assert.Equal(t, "my-weird-name", ComponentID("/tmp/my weird name.wasm"))
}

func TestSplitReference(t *testing.T) {
	repo, tag := splitReference("registry.example.com/ns/comp:v1.2.3")
	assert.Equal(t, "registry.example.com/ns/comp", repo)
	assert.Equal(t, "v1.2.3", tag)

	repo, tag = splitReference("registry.example.com/ns/comp@sha256:deadbeef")
	assert.Equal(t, "registry.example.com/ns/comp", repo)
	assert.Equal(t, "sha256:deadbeef", tag)

	repo, tag = splitReference("registry.example.com/ns/comp")
	assert.Equal(t, "registry.example.com/ns/comp", repo)
	assert.Equal(t, "latest", tag)
}

func TestLoadFileMissingSourceFails(t *testing.T) {
	loader := New(t.TempDir())
	_, err := loader.Load(context.Background(), "/nonexistent/path/comp.wasm")
	assert.Error(t, err)
}

func TestAsSemverConstraintRecognizesRanges(t *testing.T) {
	_, ok := asSemverConstraint("latest")
	assert.False(t, ok, "latest is never a range")

	_, ok = asSemverConstraint("v1.2.3")
	assert.False(t, ok, "an exact, v-prefixed version is a tag, not a range")

	_, ok = asSemverConstraint("1.2.3")
	assert.False(t, ok, "an exact version is a tag, not a range")

	c, ok := asSemverConstraint("^1.2.0")
	require.True(t, ok)
	assert.True(t, c.Check(semverMustParse(t, "1.5.0")))
	assert.False(t, c.Check(semverMustParse(t, "2.0.0")))
}

func semverMustParse(t *testing.T, s string) *semver.Version {
	t.Helper()
	v, err := semver.NewVersion(s)
	require.NoError(t, err)
	return v
}

type fakeTagLister struct {
	tags []string
}

func (f fakeTagLister) Tags(_ context.Context, _ string, fn func(tags []string) error) error {
	return fn(f.tags)
}

func TestResolveTagConstraintPicksHighestMatch(t *testing.T) {
	lister := fakeTagLister{tags: []string{"v1.0.0", "v1.2.0", "v1.5.0", "v2.0.0", "not-a-version"}}
	constraint, ok := asSemverConstraint("^1.0.0")
	require.True(t, ok)

	tag, err := resolveTagConstraint(context.Background(), lister, constraint)
	require.NoError(t, err)
	assert.Equal(t, "v1.5.0", tag)
}

func TestResolveTagConstraintNoMatch(t *testing.T) {
	lister := fakeTagLister{tags: []string{"v0.1.0"}}
	constraint, ok := asSemverConstraint("^2.0.0")
	require.True(t, ok)

	_, err := resolveTagConstraint(context.Background(), lister, constraint)
	assert.Error(t, err)
}

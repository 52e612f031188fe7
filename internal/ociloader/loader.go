// Package ociloader resolves a component reference — a local path or an
// oci:// reference — into a component artifact placed inside the plugin
// directory.
package ociloader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
)

// MediaTypeWasmComponent is the media type expected for the single layer
// holding the compiled component binary in an OCI artifact produced for
// Wassette.
const MediaTypeWasmComponent = "application/wasm"

var sanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Loader resolves references and places artifacts under pluginDir.
type Loader struct {
	pluginDir string
}

// New creates a Loader that places resolved artifacts under pluginDir.
func New(pluginDir string) *Loader {
	return &Loader{pluginDir: pluginDir}
}

// Result describes a successfully resolved and placed component artifact.
type Result struct {
	ComponentID string
	ArtifactPath string
	SourceURI    string
}

// Load resolves uri — a file:// URI, a bare path, or an oci:// reference —
// and places the artifact at <pluginDir>/<id>.wasm. On any failure no trace
// is left in pluginDir.
func (l *Loader) Load(ctx context.Context, uri string) (*Result, error) {
	switch {
	case strings.HasPrefix(uri, "oci://"):
		return l.loadOCI(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		return l.loadFile(strings.TrimPrefix(uri, "file://"), uri)
	default:
		return l.loadFile(uri, uri)
	}
}

func (l *Loader) loadFile(path, sourceURI string) (*Result, error) {
	id := ComponentID(path)
	dest := filepath.Join(l.pluginDir, id+".wasm")

	if err := placeByCopy(path, dest); err != nil {
		return nil, fmt.Errorf("load failed for %s: %w", sourceURI, err)
	}
	return &Result{ComponentID: id, ArtifactPath: dest, SourceURI: sourceURI}, nil
}

func (l *Loader) loadOCI(ctx context.Context, uri string) (*Result, error) {
	ref := strings.TrimPrefix(uri, "oci://")
	repoRef, tagOrDigest := splitReference(ref)

	repo, err := remote.NewRepository(repoRef)
	if err != nil {
		return nil, fmt.Errorf("load failed for %s: resolve repository: %w", uri, err)
	}

	if constraint, ok := asSemverConstraint(tagOrDigest); ok {
		resolved, err := resolveTagConstraint(ctx, repo, constraint)
		if err != nil {
			return nil, fmt.Errorf("load failed for %s: resolve version constraint %q: %w", uri, tagOrDigest, err)
		}
		tagOrDigest = resolved
	}

	stagingDir, err := os.MkdirTemp(l.pluginDir, ".oci-pull-*")
	if err != nil {
		return nil, fmt.Errorf("load failed for %s: staging dir: %w", uri, err)
	}
	defer os.RemoveAll(stagingDir)

	dst, err := file.New(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("load failed for %s: staging store: %w", uri, err)
	}
	defer dst.Close()

	manifestDesc, err := oras.Copy(ctx, repo, tagOrDigest, dst, tagOrDigest, oras.DefaultCopyOptions)
	if err != nil {
		return nil, fmt.Errorf("load failed for %s: pull: %w", uri, err)
	}

	id := ComponentID(repoPathStem(repoRef))
	dest := filepath.Join(l.pluginDir, id+".wasm")
	if err := extractWasmLayer(ctx, dst, manifestDesc, stagingDir, dest); err != nil {
		return nil, fmt.Errorf("load failed for %s: %w", uri, err)
	}
	return &Result{ComponentID: id, ArtifactPath: dest, SourceURI: uri}, nil
}

// extractWasmLayer walks the pulled manifest (already resident in the
// staging file store), finds the single application/wasm layer, and places
// its content at dest.
func extractWasmLayer(ctx context.Context, store *file.Store, desc v1.Descriptor, stagingDir, dest string) error {
	manifestReader, err := store.Fetch(ctx, desc)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}
	defer manifestReader.Close()

	var manifest v1.Manifest
	if err := json.NewDecoder(manifestReader).Decode(&manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}

	for _, layer := range manifest.Layers {
		if layer.MediaType != MediaTypeWasmComponent {
			continue
		}
		layerReader, err := store.Fetch(ctx, layer)
		if err != nil {
			return fmt.Errorf("fetch layer %s: %w", layer.Digest, err)
		}
		defer layerReader.Close()

		tmp, err := os.CreateTemp(stagingDir, "layer-*.wasm")
		if err != nil {
			return fmt.Errorf("stage layer: %w", err)
		}
		if _, err := io.Copy(tmp, layerReader); err != nil {
			tmp.Close()
			return fmt.Errorf("write staged layer: %w", err)
		}
		tmp.Close()

		return placeAtomically(tmp.Name(), dest)
	}
	return fmt.Errorf("no %s layer found in manifest", MediaTypeWasmComponent)
}

// ComponentID derives a stable ComponentId from a source path or reference
// by sanitizing its filename stem to a filesystem-safe token.
func ComponentID(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return sanitizer.ReplaceAllString(stem, "-")
}

func repoPathStem(repoRef string) string {
	parts := strings.Split(repoRef, "/")
	last := parts[len(parts)-1]
	if i := strings.IndexAny(last, ":@"); i >= 0 {
		last = last[:i]
	}
	return last
}

// asSemverConstraint reports whether tagOrDigest names a version range
// (e.g. "^1.2.0", ">=1.0.0 <2.0.0") rather than a fixed tag, so the caller
// can resolve it against the repository's published tags.
func asSemverConstraint(tagOrDigest string) (*semver.Constraints, bool) {
	if tagOrDigest == "" || tagOrDigest == "latest" {
		return nil, false
	}
	if _, err := semver.NewVersion(tagOrDigest); err == nil {
		return nil, false // an exact version (optionally "v"-prefixed) is a tag, not a range to resolve
	}
	c, err := semver.NewConstraint(tagOrDigest)
	if err != nil {
		return nil, false
	}
	return c, true
}

// tagLister is the subset of registry.Repository resolveTagConstraint needs,
// narrowed so it can be exercised against a fake in tests without having to
// satisfy the full Repository interface.
type tagLister interface {
	Tags(ctx context.Context, last string, fn func(tags []string) error) error
}

// resolveTagConstraint lists repo's tags and returns the highest one
// satisfying constraint.
func resolveTagConstraint(ctx context.Context, repo tagLister, constraint *semver.Constraints) (string, error) {
	var best *semver.Version
	var bestTag string
	err := repo.Tags(ctx, "", func(tags []string) error {
		for _, tag := range tags {
			v, err := semver.NewVersion(tag)
			if err != nil {
				continue
			}
			if !constraint.Check(v) {
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best, bestTag = v, tag
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("list tags: %w", err)
	}
	if best == nil {
		return "", fmt.Errorf("no published tag satisfies constraint")
	}
	return bestTag, nil
}

func splitReference(ref string) (repo, tagOrDigest string) {
	if i := strings.LastIndex(ref, "@"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	if i := strings.LastIndex(ref, ":"); i >= 0 && !strings.Contains(ref[i:], "/") {
		return ref[:i], ref[i+1:]
	}
	return ref, "latest"
}

// placeAtomically moves src into dest for an artifact the loader already
// owns outright (a staged OCI layer file, never a caller-supplied path),
// using a temp-file-then-rename sequence so dest never appears as a partial
// write. It renames src first and falls back to a buffered copy plus delete
// of src when src and dest are on different filesystems. Callers handling a
// caller-supplied source path must use placeByCopy instead, since src here
// does not survive the call.
func placeAtomically(src, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.wasm.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := os.Rename(src, tmpPath); err != nil {
		// os.Rename fails with EXDEV when src and dest are on different
		// filesystems; fall back to a buffered copy plus delete in that case
		// (and, for robustness, any other rename failure too).
		if copyErr := copyFile(src, tmpPath); copyErr != nil {
			return fmt.Errorf("copy artifact (rename failed: %v): %w", err, copyErr)
		}
		_ = os.Remove(src)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	return nil
}

// placeByCopy copies src into dest and leaves src untouched — used for a
// caller-supplied source path (a bare path or file:// reference) that the
// caller still owns after Load returns. The copy goes through a
// temp-file-then-rename sequence within dest's directory so dest never
// appears as a partial write.
func placeByCopy(src, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create plugin dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".artifact-*.wasm.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := copyFile(src, tmpPath); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duffney/wassette/internal/policy"
	"github.com/duffney/wassette/internal/schema"
)

// recoveryConcurrency bounds how many components RecoverOnBoot compiles at
// once, mirroring the original's num_cpus-capped semaphore.
func recoveryConcurrency() int {
	if n := runtime.NumCPU(); n < 4 {
		return n
	}
	return 4
}

// RecoverOnBoot scans pluginDir for *.wasm artifacts left by a prior run and
// re-registers each one, trusting a cached metadata sidecar when its
// validation stamp still matches the artifact on disk and falling back to a
// full recompile otherwise.
func (m *Manager) RecoverOnBoot(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(m.pluginDir, "*.wasm"))
	if err != nil {
		return fmt.Errorf("scan plugin dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryConcurrency())

	var mu sync.Mutex
	var recovered []*Entry

	for _, artifactPath := range matches {
		artifactPath := artifactPath
		g.Go(func() error {
			entry, err := m.recoverOne(gctx, artifactPath)
			if err != nil {
				m.logger.Warn("failed to recover component", zap.String("artifact", artifactPath), zap.Error(err))
				return nil // a single bad artifact doesn't abort the whole scan
			}
			mu.Lock()
			recovered = append(recovered, entry)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, e := range recovered {
		m.entries[e.ID] = e
	}
	m.mu.Unlock()

	if len(recovered) > 0 {
		m.notifyChange()
	}
	m.logger.Info("reboot recovery complete", zap.Int("recovered", len(recovered)), zap.Int("found", len(matches)))
	return nil
}

func (m *Manager) recoverOne(ctx context.Context, artifactPath string) (*Entry, error) {
	id := strings.TrimSuffix(filepath.Base(artifactPath), ".wasm")

	info, err := os.Stat(artifactPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", artifactPath, err)
	}
	stamp := ValidationStamp{Size: info.Size(), ModTime: info.ModTime()}

	var entry *Entry
	if cached, ok := m.readCachedMetadata(id, stamp); ok {
		data, err := os.ReadFile(artifactPath)
		if err != nil {
			return nil, fmt.Errorf("read artifact: %w", err)
		}
		template, err := m.runtime.Compile(ctx, id, data)
		if err != nil {
			return nil, fmt.Errorf("compile: %w", err)
		}
		tools := make([]ToolDescriptor, len(cached.Tools))
		for i, td := range cached.Tools {
			if td.HasOutput {
				td.OutputSchema = schema.CanonicalizeOutputSchema(td.OutputSchema)
			}
			tools[i] = td
		}
		cached.Tools = tools
		entry = &Entry{ID: id, Template: template, Tools: tools, Meta: cached}
	} else {
		built, err := m.buildEntry(ctx, id, artifactPath, "")
		if err != nil {
			return nil, err
		}
		if err := m.persistMetadata(id, built.Meta); err != nil {
			return nil, fmt.Errorf("persist metadata: %w", err)
		}
		entry = built
	}

	if doc, err := policy.Load(m.policyPath(id)); err == nil && doc != nil {
		entry.Policy = doc
	}
	return entry, nil
}

func (m *Manager) readCachedMetadata(id string, stamp ValidationStamp) (Metadata, bool) {
	data, err := os.ReadFile(m.metaPath(id))
	if err != nil {
		return Metadata{}, false
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, false
	}
	if !meta.Stamp.Equal(stamp) {
		return Metadata{}, false
	}
	return meta, true
}

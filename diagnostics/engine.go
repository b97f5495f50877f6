package diagnostics

import (
	"context"
	"errors"
	"sync"

	"github.com/flanksource/commons/logger"

	"github.com/genealabs/phpmd-lsp/executor"
	"github.com/genealabs/phpmd-lsp/internal/docstore"
	"github.com/genealabs/phpmd-lsp/internal/resultcache"
	"github.com/genealabs/phpmd-lsp/models"
	"github.com/genealabs/phpmd-lsp/phpmd"
	"github.com/genealabs/phpmd-lsp/resolver"
)

// Analyzer runs the external analysis tool against document content.
// Implemented by phpmd.PHPMD; tests substitute fakes.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, ruleset string) ([]models.Violation, error)
	SetWorkspaceRoot(root string)
	SetBinaryPath(path string)
}

// Kind distinguishes the two shapes of a diagnostics response.
type Kind = string

const (
	// KindFull carries the complete diagnostic set.
	KindFull Kind = "full"
	// KindUnchanged tells the client its previous result is still current.
	KindUnchanged Kind = "unchanged"
)

// Result is the answer to a diagnostics request. A full result with an
// empty ResultID signals an analysis failure the client should retry.
type Result struct {
	Kind        Kind
	ResultID    string
	Diagnostics []models.Diagnostic
}

// Engine coordinates the content store, result cache, executor and range
// resolver for each diagnostics request. Safe for concurrent use.
type Engine struct {
	store    *docstore.Store
	cache    *resultcache.Cache
	analyzer Analyzer

	mu            sync.RWMutex
	settings      Settings
	workspaceRoot string
}

// NewEngine wires an engine around the given analyzer.
func NewEngine(analyzer Analyzer) *Engine {
	return &Engine{
		store:    docstore.NewStore(),
		cache:    resultcache.NewCache(),
		analyzer: analyzer,
	}
}

// NewDefaultEngine builds the production engine: a PHPMD adapter over an
// executor with the default slot pool and timeout.
func NewDefaultEngine(workspaceRoot string, opts ...executor.Option) *Engine {
	e := NewEngine(phpmd.New(workspaceRoot, executor.New(opts...)))
	e.SetWorkspaceRoot(workspaceRoot)
	return e
}

// Open stores the content of a newly opened document and returns its
// checksum.
func (e *Engine) Open(id string, content []byte) string {
	return e.store.Put(id, content)
}

// Change replaces a document's content entirely (full-sync semantics;
// the store serializes overlapping puts so the most recent one wins) and
// returns the new checksum.
func (e *Engine) Change(id string, content []byte) string {
	return e.store.Put(id, content)
}

// Close evicts the document and any cached diagnostics.
func (e *Engine) Close(id string) {
	e.store.Remove(id)
	e.cache.Invalidate(id)
	logger.Debugf("closed %s, compressed bytes in use: %d", id, e.store.MemoryUsage())
}

// Documents returns the ids of all currently stored documents.
func (e *Engine) Documents() []string {
	return e.store.IDs()
}

// SetWorkspaceRoot points the engine at a new workspace, picks up
// workspace-level settings and invalidates all cached state.
func (e *Engine) SetWorkspaceRoot(root string) {
	e.mu.Lock()
	e.workspaceRoot = root
	if settings, ok := LoadWorkspaceSettings(root); ok {
		e.settings = settings
	}
	settings := e.settings
	e.mu.Unlock()

	e.analyzer.SetWorkspaceRoot(root)
	e.analyzer.SetBinaryPath(settings.BinaryPath)
	e.cache.InvalidateAll()
}

// UpdateSettings applies new settings and invalidates every cached
// result and the analyzer's cached binary resolution.
func (e *Engine) UpdateSettings(settings Settings) {
	e.mu.Lock()
	e.settings = settings
	e.mu.Unlock()

	e.analyzer.SetBinaryPath(settings.BinaryPath)
	e.cache.InvalidateAll()
	logger.Infof("settings changed, result cache invalidated")
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// RequestDiagnostics answers a diagnostics pull for one document. Cache
// hits avoid the analyzer entirely; a previousResultID matching the
// cached result collapses the response to Unchanged. Analysis failures
// (missing binary, timeout) produce an empty full result without a
// result id so the client retries later; they never become errors. The
// returned error is reserved for context cancellation.
func (e *Engine) RequestDiagnostics(ctx context.Context, id, previousResultID string) (Result, error) {
	doc, ok := e.store.Get(id)
	if !ok {
		return Result{Kind: KindFull}, nil
	}

	switch lookup := e.cache.Lookup(id, doc.Checksum, previousResultID); lookup.Outcome {
	case resultcache.OutcomeUnchanged:
		return Result{Kind: KindUnchanged, ResultID: lookup.ResultID}, nil
	case resultcache.OutcomeHit:
		return Result{Kind: KindFull, ResultID: lookup.ResultID, Diagnostics: lookup.Diagnostics}, nil
	}

	content, err := e.store.Decompress(id, doc)
	if err != nil {
		// Corrupt payload: local-fatal, treat as no document.
		logger.Errorf("dropping undecodable document: %v", err)
		e.store.Remove(id)
		e.cache.Invalidate(id)
		return Result{Kind: KindFull}, nil
	}

	e.mu.RLock()
	root := e.workspaceRoot
	configured := e.settings.Rulesets
	e.mu.RUnlock()

	ruleset := phpmd.ResolveRulesets(root, configured)

	violations, err := e.analyzer.Analyze(ctx, content, ruleset)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		var spawnErr *executor.SpawnError
		var timeoutErr *executor.TimeoutError
		switch {
		case errors.As(err, &spawnErr):
			logger.Warnf("analyzer unavailable for %s: %v", id, err)
		case errors.As(err, &timeoutErr):
			logger.Warnf("analysis of %s timed out: %v", id, err)
		default:
			logger.Warnf("analysis of %s failed: %v", id, err)
		}
		return Result{Kind: KindFull}, nil
	}

	text := string(content)
	diagnostics := make([]models.Diagnostic, 0, len(violations))
	for _, v := range violations {
		diagnostics = append(diagnostics, resolver.Diagnostic(v, text))
	}

	// Cache under the checksum that was actually analyzed; if the
	// document changed while the analyzer ran, the next lookup misses
	// naturally and stale results are never served.
	resultID := e.cache.Store(id, diagnostics, doc.Checksum)

	return Result{Kind: KindFull, ResultID: resultID, Diagnostics: diagnostics}, nil
}

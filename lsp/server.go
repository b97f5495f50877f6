package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/flanksource/commons/logger"

	"github.com/genealabs/phpmd-lsp/diagnostics"
	"github.com/genealabs/phpmd-lsp/phpmd"
)

var (
	// ErrExit signals a graceful shutdown after receiving "exit".
	ErrExit = errors.New("lsp exit")
	// ErrExitWithoutShutdown signals an "exit" without a preceding "shutdown".
	ErrExitWithoutShutdown = errors.New("lsp exit without shutdown")
)

const defaultDebounce = 300 * time.Millisecond

// ServerOptions configures LSP server behavior.
type ServerOptions struct {
	// Debounce delays background analysis after change notifications so
	// typing does not queue one subprocess per keystroke. The pull path
	// is never debounced.
	Debounce time.Duration
	Engine   *diagnostics.Engine
}

// Server handles stdio JSON-RPC for the phpmd language server. It feeds
// document lifecycle notifications into the diagnostics engine, answers
// diagnostic pulls, and pushes publishDiagnostics after edits.
type Server struct {
	in     *bufio.Reader
	out    *bufio.Writer
	sendMu sync.Mutex

	engine   *diagnostics.Engine
	debounce time.Duration

	mu                sync.Mutex
	versions          map[string]int
	published         map[string]struct{}
	timers            map[string]*time.Timer
	shutdownRequested bool

	baseCtx context.Context
}

// NewServer constructs a server around engine, reading requests from in
// and writing responses to out.
func NewServer(in io.Reader, out io.Writer, opts ServerOptions) *Server {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	engine := opts.Engine
	if engine == nil {
		engine = diagnostics.NewDefaultEngine("")
	}
	return &Server{
		in:        bufio.NewReader(in),
		out:       bufio.NewWriter(out),
		engine:    engine,
		debounce:  debounce,
		versions:  make(map[string]int),
		published: make(map[string]struct{}),
		timers:    make(map[string]*time.Timer),
	}
}

// Run serves LSP requests until exit or EOF.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	for {
		payload, err := readMessage(s.in)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warnf("failed to parse message: %v", err)
			continue
		}
		if msg.Method == "" {
			continue
		}
		if err := s.handleMessage(&msg); err != nil {
			return err
		}
	}
}

func (s *Server) handleMessage(msg *rpcMessage) error {
	switch msg.Method {
	case "initialize":
		return s.handleInitialize(msg)
	case "initialized":
		return nil
	case "shutdown":
		s.mu.Lock()
		s.shutdownRequested = true
		s.mu.Unlock()
		return s.sendResponse(msg.ID, nil)
	case "exit":
		if s.shutdownWasRequested() {
			return ErrExit
		}
		return ErrExitWithoutShutdown
	case "textDocument/didOpen":
		return s.handleDidOpen(msg)
	case "textDocument/didChange":
		return s.handleDidChange(msg)
	case "textDocument/didSave":
		return s.handleDidSave(msg)
	case "textDocument/didClose":
		return s.handleDidClose(msg)
	case "textDocument/diagnostic":
		return s.handleDiagnosticPull(msg)
	case "workspace/didChangeConfiguration":
		return s.handleDidChangeConfiguration(msg)
	default:
		if len(msg.ID) > 0 {
			return s.sendError(msg.ID, -32601, "method not found")
		}
		return nil
	}
}

func (s *Server) handleInitialize(msg *rpcMessage) error {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return s.sendError(msg.ID, -32602, "invalid params")
		}
	}

	root := uriToPath(params.RootURI)
	if root == "" && params.RootPath != "" {
		root = params.RootPath
	}
	if root == "" && len(params.WorkspaceFolders) > 0 {
		root = uriToPath(params.WorkspaceFolders[0].URI)
	}
	s.engine.SetWorkspaceRoot(root)

	if len(params.InitializationOptions) > 0 {
		if settings, ok := parseSettings(params.InitializationOptions); ok {
			s.engine.UpdateSettings(settings)
		}
	}

	logger.Infof("initialized, workspace: %s", root)

	return s.sendResponse(msg.ID, initializeResult{
		Capabilities: serverCapabilities{
			TextDocumentSync: textDocumentSyncOptions{
				OpenClose: true,
				Change:    1, // full sync only
				Save:      saveOptions{IncludeText: true},
			},
			DiagnosticProvider: &diagnosticOptions{
				Identifier: phpmd.Name,
			},
		},
	})
}

func (s *Server) handleDidOpen(msg *rpcMessage) error {
	var params didOpenTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}
	uri := params.TextDocument.URI
	if !isPHP(uri) {
		return nil
	}

	s.engine.Open(uri, []byte(params.TextDocument.Text))
	s.setVersion(uri, params.TextDocument.Version)
	s.scheduleAnalysis(uri)
	return nil
}

func (s *Server) handleDidChange(msg *rpcMessage) error {
	var params didChangeTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}
	uri := params.TextDocument.URI
	if !isPHP(uri) || len(params.ContentChanges) == 0 {
		return nil
	}

	// Full-sync: the last change event carries the complete content.
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	s.engine.Change(uri, []byte(text))
	s.setVersion(uri, params.TextDocument.Version)
	s.scheduleAnalysis(uri)
	return nil
}

func (s *Server) handleDidSave(msg *rpcMessage) error {
	var params didSaveTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}
	uri := params.TextDocument.URI
	if !isPHP(uri) {
		return nil
	}

	if params.Text != nil {
		s.engine.Change(uri, []byte(*params.Text))
	}
	s.scheduleAnalysis(uri)
	return nil
}

func (s *Server) handleDidClose(msg *rpcMessage) error {
	var params didCloseTextDocumentParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}
	uri := params.TextDocument.URI

	s.mu.Lock()
	if timer, ok := s.timers[uri]; ok {
		timer.Stop()
		delete(s.timers, uri)
	}
	delete(s.versions, uri)
	_, hadDiagnostics := s.published[uri]
	delete(s.published, uri)
	s.mu.Unlock()

	s.engine.Close(uri)

	if hadDiagnostics {
		if err := s.sendPublish(uri, nil, nil); err != nil {
			logger.Warnf("failed to clear diagnostics: %v", err)
		}
	}
	return nil
}

func (s *Server) handleDiagnosticPull(msg *rpcMessage) error {
	var params documentDiagnosticParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return s.sendError(msg.ID, -32602, "invalid params")
	}

	id := msg.ID
	uri := params.TextDocument.URI
	previous := params.PreviousResultID

	// Answered off the loop so a slow analysis cannot stall other
	// requests; the send path is mutex-protected.
	go func() {
		result, err := s.engine.RequestDiagnostics(s.baseCtx, uri, previous)
		if err != nil {
			_ = s.sendError(id, -32800, "request cancelled")
			return
		}

		report := documentDiagnosticReport{Kind: result.Kind, ResultID: result.ResultID}
		if result.Kind == diagnostics.KindFull {
			report.Items = toLSPDiagnostics(result.Diagnostics)
		}
		if err := s.sendResponse(id, report); err != nil {
			logger.Warnf("failed to send diagnostic report: %v", err)
		}
	}()
	return nil
}

func (s *Server) handleDidChangeConfiguration(msg *rpcMessage) error {
	var params didChangeConfigurationParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return nil
	}

	settings, ok := parseSettings(params.Settings)
	if !ok {
		return nil
	}
	s.engine.UpdateSettings(settings)

	// Re-analyze everything under the new settings.
	for _, uri := range s.engine.Documents() {
		s.scheduleAnalysis(uri)
	}
	return nil
}

// scheduleAnalysis (re)arms the per-document debounce timer; when it
// fires, the document is analyzed and the result pushed.
func (s *Server) scheduleAnalysis(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[uri]; ok {
		timer.Stop()
	}
	s.timers[uri] = time.AfterFunc(s.debounce, func() {
		s.analyzeAndPublish(uri)
	})
}

func (s *Server) analyzeAndPublish(uri string) {
	result, err := s.engine.RequestDiagnostics(s.baseCtx, uri, "")
	if err != nil {
		return
	}
	if result.Kind != diagnostics.KindFull {
		return
	}
	if result.ResultID == "" {
		// Analysis failed (missing binary, timeout) or the document is
		// gone; keep whatever the editor already shows and let a later
		// run replace it.
		return
	}

	s.mu.Lock()
	version, hasVersion := s.versions[uri]
	s.published[uri] = struct{}{}
	s.mu.Unlock()

	var versionPtr *int
	if hasVersion {
		versionPtr = &version
	}

	logger.Debugf("publishing %d diagnostics for %s", len(result.Diagnostics), uri)
	if err := s.sendPublish(uri, toLSPDiagnostics(result.Diagnostics), versionPtr); err != nil {
		logger.Warnf("failed to publish diagnostics: %v", err)
	}
}

// parseSettings accepts both a flat settings object and one nested under
// a "phpmd" key, with rulesets as a string or array.
func parseSettings(raw json.RawMessage) (diagnostics.Settings, bool) {
	var nested struct {
		Phpmd *initializationOptions `json:"phpmd,omitempty"`
	}
	var opts initializationOptions

	if err := json.Unmarshal(raw, &nested); err == nil && nested.Phpmd != nil {
		opts = *nested.Phpmd
	} else if err := json.Unmarshal(raw, &opts); err != nil {
		return diagnostics.Settings{}, false
	}

	settings := diagnostics.Settings{BinaryPath: opts.PhpmdPath}

	if len(opts.Rulesets) > 0 {
		var single string
		var many []string
		if err := json.Unmarshal(opts.Rulesets, &single); err == nil {
			settings.Rulesets = strings.TrimSpace(single)
		} else if err := json.Unmarshal(opts.Rulesets, &many); err == nil {
			settings.Rulesets = strings.Join(many, ",")
		}
	}

	return settings, true
}

func (s *Server) shutdownWasRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownRequested
}

func (s *Server) setVersion(uri string, version int) {
	s.mu.Lock()
	s.versions[uri] = version
	s.mu.Unlock()
}

func isPHP(uri string) bool {
	return strings.HasSuffix(uri, ".php")
}

func (s *Server) sendResponse(id json.RawMessage, result any) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func (s *Server) sendError(id json.RawMessage, code int, message string) error {
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   rpcError{Code: code, Message: message},
	})
}

func (s *Server) sendPublish(uri string, list []lspDiagnostic, version *int) error {
	if list == nil {
		list = []lspDiagnostic{}
	}
	return s.send(map[string]any{
		"jsonrpc": "2.0",
		"method":  "textDocument/publishDiagnostics",
		"params": publishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: list,
		},
	})
}

func (s *Server) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := writeMessage(s.out, payload); err != nil {
		return err
	}
	return s.out.Flush()
}

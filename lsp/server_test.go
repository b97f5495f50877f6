package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genealabs/phpmd-lsp/diagnostics"
	"github.com/genealabs/phpmd-lsp/executor"
	"github.com/genealabs/phpmd-lsp/models"
)

type stubAnalyzer struct {
	violations []models.Violation
}

func (s *stubAnalyzer) Analyze(ctx context.Context, content []byte, ruleset string) ([]models.Violation, error) {
	return s.violations, nil
}

func (s *stubAnalyzer) SetWorkspaceRoot(root string) {}
func (s *stubAnalyzer) SetBinaryPath(path string)    {}

// testClient speaks framed JSON-RPC to a server over in-memory pipes.
type testClient struct {
	t      *testing.T
	writer io.Writer
	reader *bufio.Reader
	errCh  chan error
}

func startServer(t *testing.T, engine *diagnostics.Engine, debounce time.Duration) *testClient {
	t.Helper()

	clientToServer, serverIn := io.Pipe()
	serverOut, serverToClient := io.Pipe()

	server := NewServer(clientToServer, serverToClient, ServerOptions{
		Engine:   engine,
		Debounce: debounce,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(context.Background())
	}()

	t.Cleanup(func() {
		serverIn.Close()
		serverOut.Close()
	})

	return &testClient{
		t:      t,
		writer: serverIn,
		reader: bufio.NewReader(serverOut),
		errCh:  errCh,
	}
}

func (c *testClient) send(msg string) {
	c.t.Helper()
	require.NoError(c.t, writeMessage(c.writer, []byte(msg)))
}

type frame struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

func (c *testClient) read() frame {
	c.t.Helper()
	payload, err := readMessage(c.reader)
	require.NoError(c.t, err)
	var f frame
	require.NoError(c.t, json.Unmarshal(payload, &f))
	return f
}

func complexPHP() string {
	return "<?php\nclass OrderProcessor {\n    public function process() {\n        return 1;\n    }\n}\n"
}

func TestServerLifecycle(t *testing.T) {
	analyzer := &stubAnalyzer{violations: []models.Violation{{
		BeginLine:   3,
		EndLine:     5,
		Method:      "process",
		Description: "The method process() has a Cyclomatic Complexity of 14.",
		Rule:        "CyclomaticComplexity",
		RuleSet:     "Code Size Rules",
		Priority:    3,
	}}}
	client := startServer(t, diagnostics.NewEngine(analyzer), time.Hour)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"rootUri":"file:///tmp/ws"}}`)
	init := client.read()
	require.Nil(t, init.Error)

	var initResult struct {
		Capabilities struct {
			TextDocumentSync struct {
				Change int `json:"change"`
			} `json:"textDocumentSync"`
			DiagnosticProvider *struct {
				Identifier string `json:"identifier"`
			} `json:"diagnosticProvider"`
		} `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(init.Result, &initResult))
	assert.Equal(t, 1, initResult.Capabilities.TextDocumentSync.Change)
	require.NotNil(t, initResult.Capabilities.DiagnosticProvider)
	assert.Equal(t, "phpmd", initResult.Capabilities.DiagnosticProvider.Identifier)

	client.send(`{"jsonrpc":"2.0","method":"initialized"}`)

	open, err := json.Marshal(map[string]any{
		"textDocument": map[string]any{
			"uri":     "file:///tmp/ws/a.php",
			"version": 1,
			"text":    complexPHP(),
		},
	})
	require.NoError(t, err)
	client.send(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":` + string(open) + `}`)

	client.send(`{"jsonrpc":"2.0","id":2,"method":"textDocument/diagnostic","params":{"textDocument":{"uri":"file:///tmp/ws/a.php"}}}`)
	pull := client.read()
	require.Nil(t, pull.Error)

	var report struct {
		Kind     string          `json:"kind"`
		ResultID string          `json:"resultId"`
		Items    []lspDiagnostic `json:"items"`
	}
	require.NoError(t, json.Unmarshal(pull.Result, &report))
	assert.Equal(t, "full", report.Kind)
	require.NotEmpty(t, report.ResultID)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 2, report.Items[0].Severity) // Warning
	assert.Equal(t, "CyclomaticComplexity", report.Items[0].Code)
	assert.Equal(t, 2, report.Items[0].Range.Start.Line)

	client.send(`{"jsonrpc":"2.0","id":3,"method":"textDocument/diagnostic","params":{"textDocument":{"uri":"file:///tmp/ws/a.php"},"previousResultId":"` + report.ResultID + `"}}`)
	unchanged := client.read()
	require.Nil(t, unchanged.Error)
	require.NoError(t, json.Unmarshal(unchanged.Result, &report))
	assert.Equal(t, "unchanged", report.Kind)

	client.send(`{"jsonrpc":"2.0","id":4,"method":"shutdown"}`)
	shutdown := client.read()
	assert.Nil(t, shutdown.Error)

	client.send(`{"jsonrpc":"2.0","method":"exit"}`)
	select {
	case err := <-client.errCh:
		assert.ErrorIs(t, err, ErrExit)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestServerPushesAfterDebounce(t *testing.T) {
	analyzer := &stubAnalyzer{violations: []models.Violation{{
		BeginLine:   2,
		EndLine:     2,
		Description: "Avoid using eval().",
		Rule:        "EvalExpression",
		RuleSet:     "Design Rules",
		Priority:    1,
	}}}
	client := startServer(t, diagnostics.NewEngine(analyzer), 10*time.Millisecond)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	client.read()

	open, err := json.Marshal(map[string]any{
		"textDocument": map[string]any{
			"uri":     "file:///tmp/ws/b.php",
			"version": 1,
			"text":    "<?php\neval($code);\n",
		},
	})
	require.NoError(t, err)
	client.send(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":` + string(open) + `}`)

	push := client.read()
	assert.Equal(t, "textDocument/publishDiagnostics", push.Method)

	var params publishDiagnosticsParams
	require.NoError(t, json.Unmarshal(push.Params, &params))
	assert.Equal(t, "file:///tmp/ws/b.php", params.URI)
	require.NotNil(t, params.Version)
	assert.Equal(t, 1, *params.Version)
	require.Len(t, params.Diagnostics, 1)
	assert.Equal(t, 1, params.Diagnostics[0].Severity) // Error
}

// flakyAnalyzer succeeds on the first run and then fails, mimicking a
// phpmd binary that disappears mid-session.
type flakyAnalyzer struct {
	violations []models.Violation
	calls      atomic.Int32
}

func (f *flakyAnalyzer) Analyze(ctx context.Context, content []byte, ruleset string) ([]models.Violation, error) {
	if f.calls.Add(1) > 1 {
		return nil, &executor.SpawnError{Command: "phpmd", Err: os.ErrNotExist}
	}
	return f.violations, nil
}

func (f *flakyAnalyzer) SetWorkspaceRoot(root string) {}
func (f *flakyAnalyzer) SetBinaryPath(path string)    {}

func TestServerKeepsDiagnosticsAcrossAnalyzerFailure(t *testing.T) {
	analyzer := &flakyAnalyzer{violations: []models.Violation{{
		BeginLine:   2,
		EndLine:     2,
		Description: "Avoid using eval().",
		Rule:        "EvalExpression",
		RuleSet:     "Design Rules",
		Priority:    1,
	}}}
	client := startServer(t, diagnostics.NewEngine(analyzer), 10*time.Millisecond)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	client.read()

	open, err := json.Marshal(map[string]any{
		"textDocument": map[string]any{
			"uri":     "file:///tmp/ws/c.php",
			"version": 1,
			"text":    "<?php\neval($code);\n",
		},
	})
	require.NoError(t, err)
	client.send(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":` + string(open) + `}`)

	push := client.read()
	require.Equal(t, "textDocument/publishDiagnostics", push.Method)
	var params publishDiagnosticsParams
	require.NoError(t, json.Unmarshal(push.Params, &params))
	require.Len(t, params.Diagnostics, 1)

	// The edit triggers a re-analysis that fails; the earlier findings
	// must not be wiped by an empty publish.
	change, err := json.Marshal(map[string]any{
		"textDocument":   map[string]any{"uri": "file:///tmp/ws/c.php", "version": 2},
		"contentChanges": []map[string]any{{"text": "<?php\neval($code); // edited\n"}},
	})
	require.NoError(t, err)
	client.send(`{"jsonrpc":"2.0","method":"textDocument/didChange","params":` + string(change) + `}`)

	// Let the debounce timer fire and the failed run complete.
	time.Sleep(200 * time.Millisecond)
	require.GreaterOrEqual(t, analyzer.calls.Load(), int32(2), "the edit must trigger a re-analysis")

	client.send(`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`)
	next := client.read()
	assert.Empty(t, next.Method, "no publish may sneak in between the failed run and shutdown")
	assert.JSONEq(t, "2", string(next.ID))
}

func TestServerIgnoresNonPHPDocuments(t *testing.T) {
	engine := diagnostics.NewEngine(&stubAnalyzer{})
	client := startServer(t, engine, time.Hour)

	client.send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	client.read()

	open, err := json.Marshal(map[string]any{
		"textDocument": map[string]any{
			"uri":     "file:///tmp/notes.md",
			"version": 1,
			"text":    "# notes",
		},
	})
	require.NoError(t, err)
	client.send(`{"jsonrpc":"2.0","method":"textDocument/didOpen","params":` + string(open) + `}`)

	// Force a synchronization point past the notification.
	client.send(`{"jsonrpc":"2.0","id":2,"method":"shutdown"}`)
	client.read()

	assert.Empty(t, engine.Documents())
}

func TestServerExitWithoutShutdown(t *testing.T) {
	client := startServer(t, diagnostics.NewEngine(&stubAnalyzer{}), time.Hour)

	client.send(`{"jsonrpc":"2.0","method":"exit"}`)
	select {
	case err := <-client.errCh:
		assert.ErrorIs(t, err, ErrExitWithoutShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want diagnostics.Settings
		ok   bool
	}{
		{
			name: "flat with string rulesets",
			raw:  `{"rulesets":"cleancode,design","phpmdPath":"/opt/phpmd"}`,
			want: diagnostics.Settings{Rulesets: "cleancode,design", BinaryPath: "/opt/phpmd"},
			ok:   true,
		},
		{
			name: "rulesets as array",
			raw:  `{"rulesets":["cleancode","codesize"]}`,
			want: diagnostics.Settings{Rulesets: "cleancode,codesize"},
			ok:   true,
		},
		{
			name: "nested under phpmd",
			raw:  `{"phpmd":{"rulesets":"unusedcode"}}`,
			want: diagnostics.Settings{Rulesets: "unusedcode"},
			ok:   true,
		},
		{
			name: "not an object",
			raw:  `"just a string"`,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSettings(json.RawMessage(tt.raw))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

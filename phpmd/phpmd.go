package phpmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/flanksource/commons/logger"

	"github.com/genealabs/phpmd-lsp/executor"
	"github.com/genealabs/phpmd-lsp/models"
)

// Name is the analyzer identifier advertised to editors.
const Name = "phpmd"

// PHPMD locates the PHP Mess Detector binary and runs it against
// in-memory content through the shared executor. The resolved binary
// path is cached until the workspace or settings change.
type PHPMD struct {
	exec *executor.Executor

	mu            sync.RWMutex
	workspaceRoot string
	binaryPath    string   // explicit override from settings
	resolved      []string // cached argv prefix, possibly interpreter-wrapped
}

// New creates a PHPMD adapter rooted at workspaceRoot (may be empty).
func New(workspaceRoot string, exec *executor.Executor) *PHPMD {
	return &PHPMD{workspaceRoot: workspaceRoot, exec: exec}
}

// Analyze runs phpmd against content and returns the parsed violations.
// Malformed or empty analyzer output yields zero violations; only
// executor-level failures (spawn, timeout) surface as errors.
func (p *PHPMD) Analyze(ctx context.Context, content []byte, ruleset string) ([]models.Violation, error) {
	inv, err := p.Command(ruleset)
	if err != nil {
		return nil, &executor.SpawnError{Command: Name, Err: err}
	}

	raw, err := p.exec.Run(ctx, content, inv)
	if err != nil {
		return nil, err
	}

	return ParseViolations(ExtractPayload(raw)), nil
}

// SetWorkspaceRoot changes the workspace root and drops the cached
// binary resolution so the next run re-discovers it.
func (p *PHPMD) SetWorkspaceRoot(root string) {
	p.mu.Lock()
	p.workspaceRoot = root
	p.resolved = nil
	p.mu.Unlock()
}

// SetBinaryPath forces a specific phpmd binary, bypassing discovery.
// An empty path restores discovery.
func (p *PHPMD) SetBinaryPath(path string) {
	p.mu.Lock()
	p.binaryPath = path
	p.resolved = nil
	p.mu.Unlock()
}

// ResetBinaryCache drops the cached resolution, e.g. after a settings change.
func (p *PHPMD) ResetBinaryCache() {
	p.mu.Lock()
	p.resolved = nil
	p.mu.Unlock()
}

// Command returns the invocation that analyzes one file with the given
// ruleset argument: `<binary> <file> json <ruleset>`.
func (p *PHPMD) Command(ruleset string) (executor.Invocation, error) {
	argv, err := p.resolve()
	if err != nil {
		return executor.Invocation{}, err
	}

	args := append(append([]string{}, argv[1:]...), executor.TempFileArg, "json", ruleset)
	return executor.Invocation{Binary: argv[0], Args: args}, nil
}

// resolve finds the phpmd executable in priority order: explicit
// override, project-local vendor/bin/phpmd, a phpmd.phar next to the
// server binary (run through the PHP interpreter with error reporting
// suppressed so warnings cannot pollute the JSON report), then PATH.
func (p *PHPMD) resolve() ([]string, error) {
	p.mu.RLock()
	if p.resolved != nil {
		argv := p.resolved
		p.mu.RUnlock()
		return argv, nil
	}
	override := p.binaryPath
	root := p.workspaceRoot
	p.mu.RUnlock()

	argv, err := discover(override, root)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.resolved = argv
	p.mu.Unlock()

	logger.Infof("using phpmd: %v", argv)
	return argv, nil
}

func discover(override, root string) ([]string, error) {
	if override != "" {
		if isExecutableFile(override) {
			return wrapPhar(override), nil
		}
		return nil, fmt.Errorf("configured phpmd binary %s not found", override)
	}

	if root != "" {
		local := filepath.Join(root, "vendor", "bin", "phpmd")
		if isExecutableFile(local) {
			return []string{local}, nil
		}
	}

	if self, err := os.Executable(); err == nil {
		phar := filepath.Join(filepath.Dir(self), "phpmd.phar")
		if isExecutableFile(phar) {
			return wrapPhar(phar), nil
		}
	}

	if path, err := exec.LookPath("phpmd"); err == nil {
		return []string{path}, nil
	}

	return nil, fmt.Errorf("phpmd executable not found: install phpmd or place phpmd.phar next to the server binary")
}

// wrapPhar routes .phar archives through the PHP interpreter so they run
// on systems without executable phar support, with error reporting off.
func wrapPhar(path string) []string {
	if filepath.Ext(path) != ".phar" {
		return []string{path}
	}
	php, err := exec.LookPath("php")
	if err != nil {
		return []string{path}
	}
	return []string{php, "-d", "error_reporting=0", path}
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

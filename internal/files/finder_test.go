package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("<?php\n"), 0o644))
	return path
}

func TestFindPHPFilesWalksDirectories(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "src/Order.php")
	b := writeFile(t, root, "src/Sub/Invoice.php")
	writeFile(t, root, "src/readme.md")
	writeFile(t, root, ".hidden/Skipped.php")

	found, err := FindPHPFiles([]string{root}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, found)
}

func TestFindPHPFilesHonorsExcludes(t *testing.T) {
	root := t.TempDir()
	kept := writeFile(t, root, "src/Order.php")
	writeFile(t, root, "vendor/lib/Lib.php")

	found, err := FindPHPFiles([]string{root}, []string{"vendor/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{kept}, found)
}

func TestFindPHPFilesExplicitFileBypassesExtensionCheck(t *testing.T) {
	root := t.TempDir()
	script := writeFile(t, root, "bin/tool")

	found, err := FindPHPFiles([]string{script}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{script}, found)
}

func TestFindPHPFilesDeduplicates(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.php")

	found, err := FindPHPFiles([]string{root, a}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, found)
}

func TestFindPHPFilesMissingPath(t *testing.T) {
	_, err := FindPHPFiles([]string{"/does/not/exist"}, nil)
	assert.Error(t, err)
}

package main

import (
	"github.com/genealabs/phpmd-lsp/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(func() (string, string, string) {
		return version, commit, date
	})
	cmd.Execute()
}

package main

import (
	"os"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

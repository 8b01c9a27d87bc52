package main

import (
	"log/slog"
	"os"

	"userphone/cmd"
)

func main() {
	if err := cmd.Start(); err != nil {
		slog.Error("userphone stopped", "error", err)
		os.Exit(1)
	}
}

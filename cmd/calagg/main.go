package main

import (
	"context"
	"os"

	appLog "calagg/internal/log"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		appLog.Error("calagg failed", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Sync()
}

// Command capsule boots an application from a self-contained executable
// archive. It defines no flags of its own: the entire argument vector is
// forwarded verbatim to the application entry point.
//
// The launched artifact defaults to the running executable; CAPSULE_ROOT,
// CAPSULE_ENTRY_POINT, CAPSULE_CLASSPATH, or a capsule.toml next to the
// binary override the defaults.
package main

import (
	"log/slog"
	"os"

	"github.com/capsulekit/capsule/launch"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := launch.DiscoverConfig()
	if err != nil {
		logger.Error("launch failed", "error", err)
		os.Exit(1)
	}

	l := launch.New(
		launch.WithConfig(cfg),
		launch.WithLogger(logger),
	)
	if err := l.Launch(os.Args[1:]); err != nil {
		// The original failure stays visible, never swallowed or wrapped.
		logger.Error("launch failed", "state", l.State().String(), "error", err)
		os.Exit(1)
	}
}

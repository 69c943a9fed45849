package main

import (
	"log/slog"

	"github.com/BioHazard786/meshroom/internal/cli"
	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/logging"
)

func main() {
	config.LoadDotEnv()
	// The room view owns the terminal, so only warnings reach stderr unless
	// LOG_LEVEL or LOG_FILE say otherwise.
	logging.Init(slog.LevelWarn)
	cli.Execute()
}

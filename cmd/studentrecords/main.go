package main

import (
	"os"

	"github.com/yigit/studentrecords/internal/pkg/logger"
)

func main() {
	app := newApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		logger.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

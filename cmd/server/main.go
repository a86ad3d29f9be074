package main

import (
	"github.com/insightlab/causal/backend/internal/server"
	"github.com/insightlab/causal/backend/internal/util"
	"github.com/insightlab/causal/backend/pkg/logger"
	"github.com/insightlab/causal/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvBool("LOG_JSON", false),
		Prefix: "server",
	})
	logger.Init(consoleLogger)

	server.Init()
}

package main

import (
	"cryptopulse/cmd/handlers"
	"cryptopulse/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}

package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"wedding-quiz-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Error().Err(err).Msg("wedding-quiz failed")
		os.Exit(1)
	}
}

package main

import (
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"report-rag/internal/rag"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := rootCmd.Execute(); err != nil {
		switch {
		case errors.Is(err, rag.ErrIndexNotBuilt):
			log.Fatal().Msg(err.Error())
		case errors.Is(err, rag.ErrStaleIndex):
			log.Fatal().Err(err).Msg("Index does not match the configured embedder")
		default:
			log.Fatal().Err(err).Msg("Command failed")
		}
	}
}

package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mycelian/calsync/internal/calsyncservice"
)

func main() {
	if err := calsyncservice.Run(); err != nil {
		log.Error().Err(err).Msg("calsync-service exited with error")
		os.Exit(1)
	}
}

package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/mycelian/calsync/internal/pullworker"
)

func main() {
	once := flag.Bool("once", false, "run a single pull cycle and exit")
	flag.Parse()

	if err := pullworker.Run(*once); err != nil {
		log.Error().Err(err).Msg("pull-worker exited with error")
		os.Exit(1)
	}
}

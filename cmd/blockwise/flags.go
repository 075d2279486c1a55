package main

import (
	"github.com/samcharles93/blockwise/internal/backend"
	_ "github.com/samcharles93/blockwise/internal/backend/cpu"
	"github.com/urfave/cli/v3"
)

var (
	weightsPath   string
	blocksPath    string
	inputChannels int64
	byteOffset    int64
	backendName   string
	logLevel      string
	logFormat     string
	debug         bool
)

func commonChainFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "weights",
			Aliases:     []string{"w"},
			Usage:       "path to a little-endian float32 weight file",
			Destination: &weightsPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "blocks",
			Aliases:     []string{"b"},
			Usage:       "path to a YAML chain description",
			Destination: &blocksPath,
			Required:    true,
		},
		&cli.Int64Flag{
			Name:        "input-channels",
			Aliases:     []string{"c"},
			Usage:       "channel count of the chain input (overrides the chain file)",
			Destination: &inputChannels,
		},
		&cli.Int64Flag{
			Name:        "byte-offset",
			Usage:       "byte offset of the first block (overrides the chain file)",
			Destination: &byteOffset,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (" + backend.Auto + ", " + backend.Available() + ")",
			Value:       backend.Auto,
			Destination: &backendName,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// openBackend resolves a backend name through the registry.
func openBackend(name string) (backend.Backend, error) {
	return backend.Open(name)
}

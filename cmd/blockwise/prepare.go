package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/samcharles93/blockwise/internal/weights"
	"github.com/urfave/cli/v3"
)

// chainInput is everything needed to build a chain from the command line.
type chainInput struct {
	be            backend.Backend
	buf           *weights.Buffer
	specs         []chain.Spec
	inputChannels int
	byteOffset    int
}

// prepareChain resolves the chain flags, the chain file and the weights.
// Explicit flags win over the chain file, which wins over the config file.
func prepareChain(ctx context.Context, cmd *cli.Command) (chainInput, error) {
	log := logger.FromContext(ctx)

	cf, err := loadChainFile(blocksPath)
	if err != nil {
		return chainInput{}, err
	}
	specs, err := cf.specs()
	if err != nil {
		return chainInput{}, fmt.Errorf("%s: %w", blocksPath, err)
	}
	if cf.InputChannels != nil && !cmd.IsSet("input-channels") {
		inputChannels = *cf.InputChannels
	}
	if cf.ByteOffset != nil && !cmd.IsSet("byte-offset") {
		byteOffset = *cf.ByteOffset
	}
	if inputChannels <= 0 {
		return chainInput{}, errors.New("input channel count is required (--input-channels or input_channels in the chain file)")
	}
	if byteOffset < 0 {
		return chainInput{}, fmt.Errorf("negative byte offset %d", byteOffset)
	}

	buf, err := weights.Open(weightsPath)
	if err != nil {
		return chainInput{}, err
	}
	be, err := openBackend(backendName)
	if err != nil {
		return chainInput{}, err
	}
	log.Debug("chain input",
		"weights", weightsPath,
		"bytes", buf.ByteLength(),
		"blocks", len(specs),
		"input_channels", inputChannels,
		"byte_offset", byteOffset,
		"backend", be.Name(),
	)
	return chainInput{
		be:            be,
		buf:           buf,
		specs:         specs,
		inputChannels: int(inputChannels),
		byteOffset:    int(byteOffset),
	}, nil
}

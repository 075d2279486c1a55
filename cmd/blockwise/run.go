package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/samcharles93/blockwise/internal/backend"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/samcharles93/blockwise/internal/progress"
	"github.com/samcharles93/blockwise/internal/weights"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func runCmd() *cli.Command {
	var (
		minDelay time.Duration
		height   int64
		width    int64
		outPath  string
		quiet    bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Build a chain with progress reporting and apply it to a synthetic input",
		Flags: append(commonChainFlags(),
			&cli.DurationFlag{
				Name:        "min-delay",
				Usage:       "minimum delay between construction steps",
				Destination: &minDelay,
			},
			&cli.Int64Flag{
				Name:        "height",
				Usage:       "input height",
				Value:       8,
				Destination: &height,
			},
			&cli.Int64Flag{
				Name:        "width",
				Usage:       "input width",
				Value:       8,
				Destination: &width,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the output tensor as little-endian float32",
				Destination: &outPath,
			},
			&cli.BoolFlag{
				Name:        "quiet",
				Aliases:     []string{"q"},
				Usage:       "suppress the progress line",
				Destination: &quiet,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, LoadConfig(), &minDelay)
			log := logger.FromContext(ctx)
			if height <= 0 || width <= 0 {
				return fmt.Errorf("height and width must be positive, got %dx%d", height, width)
			}
			in, err := prepareChain(ctx, cmd)
			if err != nil {
				return err
			}

			start := time.Now()
			b := chain.NewBuilder(ctx, in.be, in.buf, in.byteOffset, in.inputChannels, in.specs)
			var onProgress func(progress.Snapshot)
			if !quiet {
				onProgress = func(s progress.Snapshot) {
					_, _ = fmt.Fprintf(os.Stderr, "\rbuilding %5.1f%%", s.Percentage)
				}
			}
			c, err := b.Run(ctx, onProgress, minDelay)
			if !quiet {
				_, _ = fmt.Fprintln(os.Stderr)
			}
			defer c.Release()
			if err != nil {
				return err
			}
			log.Info("chain built",
				"blocks", c.Len(),
				"bytes", c.Consumed(),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)

			h, w := int(height), int(width)
			x, err := in.be.Upload(backend.HWC(h, w, in.inputChannels), syntheticInput(h, w, in.inputChannels))
			if err != nil {
				return err
			}
			applyStart := time.Now()
			y, err := c.Apply(x)
			if err != nil {
				return err
			}
			defer in.be.Release(y)
			if y != x && len(c.Blocks()) > 0 && c.Blocks()[0].Config().RetainInput {
				in.be.Release(x)
			}
			out, err := in.be.Download(y)
			if err != nil {
				return err
			}
			applyElapsed := time.Since(applyStart)

			shape := y.Shape()
			xs := make([]float64, len(out))
			for i, v := range out {
				xs[i] = float64(v)
			}
			fmt.Printf("input:   %dx%dx%d\n", h, w, in.inputChannels)
			fmt.Printf("output:  %dx%dx%d\n", shape[0], shape[1], shape[2])
			if len(xs) > 0 {
				mean, std := stat.MeanStdDev(xs, nil)
				if len(xs) < 2 {
					std = 0
				}
				fmt.Printf("values:  mean=%.6g std=%.6g min=%.6g max=%.6g\n", mean, std, floats.Min(xs), floats.Max(xs))
			}
			fmt.Printf("apply:   %s\n", applyElapsed.Round(time.Microsecond))

			if outPath != "" {
				if err := weights.WriteFile(outPath, weights.NewBuffer(out)); err != nil {
					return err
				}
				log.Info("wrote output", "path", outPath, "values", len(out))
			}
			return nil
		},
	}
}

// syntheticInput is a deterministic test pattern in [-1, 1].
func syntheticInput(h, w, c int) []float32 {
	data := make([]float32, h*w*c)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.37))
	}
	return data
}

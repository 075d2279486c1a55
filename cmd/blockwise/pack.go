package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/samcharles93/blockwise/internal/logger"
	"github.com/samcharles93/blockwise/internal/weights"
	"github.com/urfave/cli/v3"
)

func packCmd() *cli.Command {
	var (
		inPath  string
		outPath string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Convert a text list of numbers into a float32 weight file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "text file of whitespace or comma separated numbers ('-' for stdin)",
				Value:       "-",
				Destination: &inPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output weight file",
				Destination: &outPath,
				Required:    true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var r io.Reader = os.Stdin
			if inPath != "-" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			values, err := parseValues(r)
			if err != nil {
				return fmt.Errorf("%s: %w", inPath, err)
			}
			if err := weights.WriteFile(outPath, weights.NewBuffer(values)); err != nil {
				return err
			}
			logger.FromContext(ctx).Info("packed weights", "path", outPath, "values", len(values), "bytes", len(values)*weights.ElementSize)
			return nil
		},
	}
}

// parseValues reads numbers separated by whitespace or commas. Text after
// '#' on a line is a comment.
func parseValues(r io.Reader) ([]float32, error) {
	var out []float32
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.FieldsFunc(text, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, float32(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/samcharles93/blockwise/internal/block"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/params"
	"github.com/samcharles93/blockwise/internal/weights"
	"github.com/urfave/cli/v3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type tensorStats struct {
	Shape []int   `json:"shape"`
	Begin int     `json:"byte_offset_begin"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type paramReport struct {
	Name      string `json:"name"`
	Value     int    `json:"value"`
	Display   string `json:"display"`
	Extracted bool   `json:"extracted"`
}

type stageReport struct {
	Summary string        `json:"summary"`
	Params  []paramReport `json:"params"`
	Filter  *tensorStats  `json:"filter,omitempty"`
	Bias    *tensorStats  `json:"bias,omitempty"`
}

type blockReport struct {
	Index          int           `json:"index"`
	Begin          int           `json:"byte_offset_begin"`
	End            int           `json:"byte_offset_end"`
	InputChannels  int           `json:"input_channels"`
	OutputChannels int           `json:"output_channels"`
	Residual       string        `json:"residual"`
	Header         []paramReport `json:"header"`
	Stages         []stageReport `json:"stages"`
	Pipeline       []string      `json:"pipeline"`
}

type inspectReport struct {
	Weights   string        `json:"weights"`
	Bytes     int           `json:"bytes"`
	Begin     int           `json:"byte_offset_begin"`
	End       int           `json:"byte_offset_end"`
	Consumed  int           `json:"consumed"`
	Remaining int           `json:"remaining"`
	Blocks    []blockReport `json:"blocks"`
	FailedAt  *int          `json:"failed_at,omitempty"`
	Error     string        `json:"error,omitempty"`
}

func inspectCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "inspect",
		Usage: "Decode a chain from a weight file and describe every block",
		Flags: append(commonChainFlags(),
			&cli.BoolFlag{Name: "json", Usage: "print the report as JSON", Destination: &asJSON},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyChainConfig(cmd, LoadConfig())
			in, err := prepareChain(ctx, cmd)
			if err != nil {
				return err
			}

			c, buildErr := chain.Build(ctx, in.be, in.buf, in.byteOffset, in.inputChannels, in.specs)
			defer c.Release()
			if c == nil {
				return buildErr
			}

			report := buildReport(weightsPath, in.buf, c)
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(os.Stdout, report)
			}
			if buildErr != nil {
				return fmt.Errorf("block %d: %w", c.FailedAt, buildErr)
			}
			return nil
		},
	}
}

func buildReport(path string, buf *weights.Buffer, c *chain.Chain) inspectReport {
	r := inspectReport{
		Weights:   path,
		Bytes:     buf.ByteLength(),
		Begin:     c.ByteOffsetBegin(),
		End:       c.ByteOffsetEnd(),
		Consumed:  c.Consumed(),
		Remaining: buf.End() - c.ByteOffsetEnd(),
	}
	for i, b := range c.Blocks() {
		cfg := b.Config()
		br := blockReport{
			Index:          i,
			Begin:          b.ByteOffsetBegin(),
			End:            b.ByteOffsetEnd(),
			InputChannels:  b.InputChannels(),
			OutputChannels: b.OutputChannels(),
			Residual:       residualState(cfg),
			Header:         paramsReport(cfg.Header),
			Pipeline:       b.Pipeline(),
		}
		for _, s := range cfg.Stages() {
			br.Stages = append(br.Stages, stageReport{
				Summary: s.String(),
				Params:  paramsReport(s.Params),
				Filter:  viewStats(s.Filter),
				Bias:    viewStats(s.Bias),
			})
		}
		r.Blocks = append(r.Blocks, br)
	}
	if c.Err != nil {
		at := c.FailedAt
		r.FailedAt = &at
		r.Error = c.Err.Error()
	}
	return r
}

func residualState(cfg block.Config) string {
	switch {
	case cfg.ResidualLegal:
		return "added"
	case cfg.ResidualRequested:
		return "skipped (shape changes)"
	default:
		return "off"
	}
}

var descriptorsByName = func() map[string]params.Descriptor {
	m := make(map[string]params.Descriptor)
	for _, d := range block.Descriptors() {
		m[d.Name] = d
	}
	return m
}()

func paramsReport(set params.Set) []paramReport {
	out := make([]paramReport, 0, set.Len())
	for _, name := range set.Names() {
		v := set.Value(name)
		out = append(out, paramReport{
			Name:      name,
			Value:     v,
			Display:   descriptorsByName[name].ValueName(v),
			Extracted: set.Extracted(name),
		})
	}
	return out
}

// viewStats summarises a filter or bias array; nil when nothing was read.
func viewStats(v weights.View) *tensorStats {
	if v.ElementCount() == 0 {
		return nil
	}
	xs := make([]float64, len(v.Data))
	for i, x := range v.Data {
		xs[i] = float64(x)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	return &tensorStats{
		Shape: v.Shape,
		Begin: v.ByteOffsetBegin,
		Mean:  mean,
		Std:   std,
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
	}
}

func printReport(w io.Writer, r inspectReport) {
	fmt.Fprintf(w, "weights:   %s (%d bytes)\n", r.Weights, r.Bytes)
	fmt.Fprintf(w, "chain:     [%d, %d) consumed %d bytes, %d remaining\n", r.Begin, r.End, r.Consumed, r.Remaining)
	for _, b := range r.Blocks {
		fmt.Fprintf(w, "\nblock %d  [%d, %d)  %d -> %d channels  residual %s\n",
			b.Index, b.Begin, b.End, b.InputChannels, b.OutputChannels, b.Residual)
		fmt.Fprintf(w, "  params:  %s\n", formatParams(b.Header))
		for _, s := range b.Stages {
			fmt.Fprintf(w, "  %s\n", s.Summary)
			fmt.Fprintf(w, "    params: %s\n", formatParams(s.Params))
			if s.Filter != nil {
				fmt.Fprintf(w, "    filter: %s\n", formatStats(s.Filter))
			}
			if s.Bias != nil {
				fmt.Fprintf(w, "    bias:   %s\n", formatStats(s.Bias))
			}
		}
		fmt.Fprintf(w, "  pipeline: %s\n", strings.Join(b.Pipeline, " -> "))
	}
	if r.FailedAt != nil {
		fmt.Fprintf(w, "\nblock %d failed: %s\n", *r.FailedAt, r.Error)
	}
}

// formatParams marks extracted values with '*'.
func formatParams(ps []paramReport) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		mark := ""
		if p.Extracted {
			mark = "*"
		}
		parts[i] = fmt.Sprintf("%s=%s%s", p.Name, p.Display, mark)
	}
	return strings.Join(parts, " ")
}

func formatStats(s *tensorStats) string {
	return fmt.Sprintf("%v @%d mean=%.4g std=%.4g min=%.4g max=%.4g", s.Shape, s.Begin, s.Mean, s.Std, s.Min, s.Max)
}

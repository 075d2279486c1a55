package main

import (
	"fmt"
	"os"

	"github.com/samcharles93/blockwise/internal/block"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/params"
	"gopkg.in/yaml.v3"
)

// chainFile is the YAML chain description:
//
//	input_channels: 2
//	byte_offset: 0
//	blocks:
//	  - overrides:
//	      residual: true
//	      depthwiseOperation: conv
//	      depthwiseStridePad: stride1-same
//	    retain_input: false
//
// Override values may be integers, true/false or enum names. Parameters not
// listed are extracted from the weights.
type chainFile struct {
	InputChannels *int64       `yaml:"input_channels"`
	ByteOffset    *int64       `yaml:"byte_offset"`
	Blocks        []blockEntry `yaml:"blocks"`
}

type blockEntry struct {
	Overrides   map[string]yaml.Node `yaml:"overrides"`
	RetainInput bool                 `yaml:"retain_input"`
	// Repeat appends the same entry this many times; zero means once.
	Repeat int `yaml:"repeat"`
}

func loadChainFile(path string) (chainFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chainFile{}, err
	}
	var cf chainFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return chainFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return cf, nil
}

// specs resolves the entries into chain specs.
func (cf chainFile) specs() ([]chain.Spec, error) {
	descs := make(map[string]params.Descriptor)
	for _, d := range block.Descriptors() {
		descs[d.Name] = d
	}

	var out []chain.Spec
	for i, e := range cf.Blocks {
		overrides := make(params.Overrides, len(e.Overrides))
		for name, node := range e.Overrides {
			d, ok := descs[name]
			if !ok {
				return nil, fmt.Errorf("blocks[%d]: unknown parameter %q", i, name)
			}
			if node.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("blocks[%d]: %s: line %d: expected a scalar", i, name, node.Line)
			}
			v, err := d.Parse(node.Value)
			if err != nil {
				return nil, fmt.Errorf("blocks[%d]: line %d: %w", i, node.Line, err)
			}
			overrides[name] = v
		}
		if e.Repeat < 0 {
			return nil, fmt.Errorf("blocks[%d]: negative repeat", i)
		}
		for range max(e.Repeat, 1) {
			out = append(out, chain.Spec{Overrides: overrides, RetainInput: e.RetainInput})
		}
	}
	return out, nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samsamfire/gosdo/pkg/sdo"
	"gopkg.in/yaml.v3"
)

// Plan is a list of values written in order to one node, e.g.
//
//	node: 0x10
//	entries:
//	  - index: 0x2001
//	    subindex: 0
//	    type: u16
//	    value: 0x1234
//	  - index: 0x2000
//	    file: firmware.bin
type Plan struct {
	Node    uint8       `yaml:"node"`
	Entries []PlanEntry `yaml:"entries"`
}

// PlanEntry holds either a typed value or the path of a file whose
// content is written as is
type PlanEntry struct {
	Index    uint16 `yaml:"index"`
	Subindex uint8  `yaml:"subindex"`
	Type     string `yaml:"type,omitempty"`
	Value    string `yaml:"value,omitempty"`
	File     string `yaml:"file,omitempty"`
}

func parsePlan(raw []byte) (*Plan, error) {
	plan := &Plan{}
	if err := yaml.Unmarshal(raw, plan); err != nil {
		return nil, fmt.Errorf("invalid plan : %w", err)
	}
	return plan, nil
}

// Concise encodes the plan as a concise DCF, relative file paths are
// resolved from dir
func (plan *Plan) Concise(dir string) ([]byte, error) {
	entries := make([]sdo.ConciseEntry, 0, len(plan.Entries))
	for i, e := range plan.Entries {
		entry := sdo.ConciseEntry{Index: e.Index, Subindex: e.Subindex}
		var err error
		switch {
		case e.File != "" && e.Type != "":
			err = fmt.Errorf("both file and type given")
		case e.File != "":
			path := e.File
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			entry.Data, err = os.ReadFile(path)
		case e.Type != "":
			entry.Data, err = encodeValue(e.Type, e.Value)
		default:
			err = fmt.Errorf("missing type or file")
		}
		if err != nil {
			return nil, fmt.Errorf("entry %d x%x|x%x : %w", i, e.Index, e.Subindex, err)
		}
		entries = append(entries, entry)
	}
	return sdo.EncodeConcise(entries), nil
}

// loadBatch reads a YAML plan, or a binary concise DCF for any other
// extension
func loadBatch(path string) (raw []byte, nodeId uint8, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		plan, err := parsePlan(content)
		if err != nil {
			return nil, 0, err
		}
		raw, err = plan.Concise(filepath.Dir(path))
		return raw, plan.Node, err
	}
	return content, 0, nil
}

func runBatch(ctx context.Context, client *sdo.SDOClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w : expecting <plan.yaml>", errUsage)
	}
	raw, nodeId, err := loadBatch(args[0])
	if err != nil {
		return err
	}
	if nodeId != 0 {
		if err := client.SetServer(nodeId); err != nil {
			return err
		}
	}
	results := make(chan sdo.BatchResult, 1)
	if err := client.DownloadConcise(raw, func(result sdo.BatchResult) { results <- result }); err != nil {
		return err
	}
	var result sdo.BatchResult
	select {
	case result = <-results:
	case <-ctx.Done():
		client.Abort(sdo.AbortDataLocalControl)
		result = <-results
		if result.Err != nil {
			result.Err = ctx.Err()
		}
	}
	for _, r := range result.Results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		printValue(fmt.Sprintf("x%04x|x%02x", r.Index, r.Subindex), status)
	}
	return result.Err
}

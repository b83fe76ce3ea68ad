package main

import (
	"fmt"
	"os"

	"github.com/jrepp/prism-data-layer/pkg/isolation"
	"github.com/jrepp/prism-data-layer/pkg/procmgr"
	"gopkg.in/yaml.v3"
)

// Plan lists the workers to start
//
//	workers:
//	  - name: renderers
//	    command: ["/usr/lib/worker", "--type=renderer"]
//	    count: 3
//	  - name: gpu
//	    command: ["/usr/lib/worker"]
//	    type: gpu
type Plan struct {
	Workers []PlanEntry `yaml:"workers"`
}

// PlanEntry describes one group of identical workers
type PlanEntry struct {
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
	Type    string   `yaml:"type"`
	Count   int      `yaml:"count"`
	ChildID int      `yaml:"child_id"`
}

// LoadPlan reads a plan from a YAML file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan parses and validates a YAML plan
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(plan.Workers) == 0 {
		return nil, fmt.Errorf("plan has no workers")
	}

	for i := range plan.Workers {
		entry := &plan.Workers[i]
		if entry.Name == "" {
			entry.Name = fmt.Sprintf("worker-%d", i)
		}
		if len(entry.Command) == 0 {
			return nil, fmt.Errorf("worker %q: command is required", entry.Name)
		}
		if entry.Count < 0 {
			return nil, fmt.Errorf("worker %q: count must not be negative", entry.Name)
		}
		if entry.Count == 0 {
			entry.Count = 1
		}
		if _, err := isolation.ParseProcessType(entry.Type); err != nil {
			return nil, fmt.Errorf("worker %q: %w", entry.Name, err)
		}
	}
	return &plan, nil
}

// Requests expands the plan into spawn requests. Tokens start at 1 and
// child ids default to the request's position in the plan.
func (p *Plan) Requests() []procmgr.SpawnRequest {
	var reqs []procmgr.SpawnRequest
	for _, entry := range p.Workers {
		pt, _ := isolation.ParseProcessType(entry.Type)
		for i := 0; i < entry.Count; i++ {
			n := len(reqs) + 1
			childID := entry.ChildID + i
			if entry.ChildID == 0 {
				childID = n
			}
			reqs = append(reqs, procmgr.SpawnRequest{
				CommandLine: append([]string(nil), entry.Command...),
				ChildID:     childID,
				Token:       procmgr.ClientToken(n),
				ProcessType: pt,
			})
		}
	}
	return reqs
}

// Names maps each request token to the plan entry it came from
func (p *Plan) Names() map[procmgr.ClientToken]string {
	names := make(map[procmgr.ClientToken]string)
	n := 0
	for _, entry := range p.Workers {
		for i := 0; i < entry.Count; i++ {
			n++
			names[procmgr.ClientToken(n)] = entry.Name
		}
	}
	return names
}

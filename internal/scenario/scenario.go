package scenario

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"slicesim/internal/logging"
	"slicesim/internal/sim"
	"slicesim/internal/telemetry"
)

// Scenario is a named set of simulation runs launched together.
type Scenario struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Runs        []Run  `yaml:"runs"`
}

// Run is one simulation of a scenario, optionally started after a delay.
type Run struct {
	telemetry.SimulationConfig `yaml:",inline"`
	StartAfter                 float64 `yaml:"start_after,omitempty"`
}

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Runs) == 0 {
		return nil, fmt.Errorf("scenario %s: no runs", path)
	}
	return &s, nil
}

// Validate checks every run against lim. IDs, when given, must be unique.
func (s *Scenario) Validate(lim telemetry.Limits) error {
	seen := make(map[string]bool)
	for i, r := range s.Runs {
		c := r.SimulationConfig
		c.Normalize()
		if err := c.Validate(lim); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		if r.StartAfter < 0 {
			return fmt.Errorf("run %d: start_after must not be negative", i)
		}
		if c.ID == "" {
			continue
		}
		if seen[c.ID] {
			return fmt.Errorf("run %d: duplicate id %s", i, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

// Configs returns the simulation configurations of the scenario.
func (s *Scenario) Configs() []telemetry.SimulationConfig {
	out := make([]telemetry.SimulationConfig, len(s.Runs))
	for i, r := range s.Runs {
		out[i] = r.SimulationConfig
	}
	return out
}

// Execute creates and starts every run on o and waits until all of them
// reach a terminal status. Cancelling ctx stops runs still in flight.
func Execute(ctx context.Context, o *sim.Orchestrator, s *Scenario) ([]sim.RunView, error) {
	log := logging.FromContext(ctx)
	results := make([]sim.RunView, len(s.Runs))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range s.Runs {
		i, r := i, r
		g.Go(func() error {
			view, err := o.Create(gctx, r.SimulationConfig)
			if err != nil {
				return fmt.Errorf("create run %d: %w", i, err)
			}
			id := view.ID()
			if r.StartAfter > 0 {
				t := time.NewTimer(time.Duration(r.StartAfter * float64(time.Second)))
				select {
				case <-gctx.Done():
					t.Stop()
					results[i] = view
					return gctx.Err()
				case <-t.C:
				}
			}
			if _, err := o.Start(gctx, id); err != nil {
				return fmt.Errorf("start %s: %w", id, err)
			}
			log.Info("scenario run started", "scenario", s.Name, "simulation_id", id)
			view, err = o.Wait(gctx, id)
			if err != nil {
				stopCtx := context.WithoutCancel(gctx)
				if v, serr := o.Stop(stopCtx, id); serr == nil {
					view = v
				}
				results[i] = view
				return err
			}
			results[i] = view
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

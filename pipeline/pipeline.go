// Package pipeline wires image steps together and runs hooks around them.
package pipeline

import (
	"context"
	"time"

	"github.com/Skryldev/image-uploader/core"
	apperrors "github.com/Skryldev/image-uploader/errors"
)

// Pipeline executes a sequence of Steps, notifying hooks around each one.
// A Pipeline is immutable once built and safe for concurrent Run calls.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns a Pipeline running steps in order.
func New(steps ...core.Step) *Pipeline { return &Pipeline{steps: steps} }

// Use appends steps.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers observers.
func (p *Pipeline) AddHook(h ...core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h...)
	return p
}

// Run executes the pipeline on img.  It returns the final ImageData and a map
// of per-step timing observations.  Step errors are returned unchanged so
// callers can classify them.
func (p *Pipeline) Run(ctx context.Context, img *core.ImageData) (*core.ImageData, map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))
	current := img

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, timings, apperrors.Cancelled(step.Name(), err)
		}

		for _, h := range p.hooks {
			h.BeforeStep(ctx, step.Name(), current)
		}
		start := time.Now()
		next, err := step.Execute(ctx, current)
		elapsed := time.Since(start)
		timings[step.Name()] = elapsed
		for _, h := range p.hooks {
			h.AfterStep(ctx, step.Name(), next, elapsed, err)
		}
		if err != nil {
			return nil, timings, err
		}
		current = next
	}
	return current, timings, nil
}

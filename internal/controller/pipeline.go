// Package controller implements the stages of the controller pipeline of a
// container mount point.
//
// A pipeline is built innermost first:
//
//	target -> resource -> cache -> lock -> sync -> driver -> finalize -> false positive
//
// The target stage reads and writes the container through its driver. Each
// other stage owns one concern and delegates everything else.
package controller

import (
	"github.com/aweris/archivefs/vfs"
)

// Config configures the stages of a pipeline.
type Config struct {
	Driver   vfs.Driver
	Strategy Strategy
}

type stage struct {
	name  string
	build func(m *Model, cfg Config, c vfs.Controller) vfs.Controller
}

// stages lists the stages wrapped around the target stage, innermost first.
var stages = []stage{
	{"resource", func(m *Model, _ Config, c vfs.Controller) vfs.Controller {
		return newResourceController(c, m.accountant)
	}},
	{"cache", func(m *Model, cfg Config, c vfs.Controller) vfs.Controller {
		return newCacheController(c, m.accountant, cfg.Driver.IOPool(), cfg.Strategy)
	}},
	{"lock", func(m *Model, _ Config, c vfs.Controller) vfs.Controller {
		return newLockController(c, m.lock)
	}},
	{"sync", func(_ *Model, _ Config, c vfs.Controller) vfs.Controller {
		return newSyncController(c)
	}},
	{"driver", func(_ *Model, cfg Config, c vfs.Controller) vfs.Controller {
		return cfg.Driver.Decorate(c)
	}},
	{"finalize", func(_ *Model, _ Config, c vfs.Controller) vfs.Controller {
		return newFinalizeController(c)
	}},
	{"false-positive", func(_ *Model, _ Config, c vfs.Controller) vfs.Controller {
		return newFalsePositiveController(c)
	}},
}

// Pipeline is the controller of a container mount point.
type Pipeline struct {
	vfs.Controller
	model  *Model
	stages []string
}

// New builds the pipeline of the mount point of model.
func New(model *Model, cfg Config) *Pipeline {
	var c vfs.Controller = newTargetController(model, cfg.Driver)
	names := []string{"target"}
	for _, s := range stages {
		c = s.build(model, cfg, c)
		names = append(names, s.name)
	}
	return &Pipeline{Controller: c, model: model, stages: names}
}

func (p *Pipeline) Model() *Model { return p.model }

// Stages returns the names of the stages, innermost first.
func (p *Pipeline) Stages() []string { return p.stages }

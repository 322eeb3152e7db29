package manifest

import (
	"maps"
	"slices"
)

// AgentDirectory maps agent ids to display names and back. It is supplied
// by the agent registry; the pipeline model only stores ids.
type AgentDirectory interface {
	NameOf(id string) (string, bool)
	IDOf(name string) (string, bool)
}

// StaticDirectory is an in-memory AgentDirectory.
type StaticDirectory struct {
	names map[string]string // id -> name
	ids   map[string]string // name -> id
}

// NewStaticDirectory builds a directory from id -> name pairs.
func NewStaticDirectory(agents map[string]string) *StaticDirectory {
	d := &StaticDirectory{
		names: make(map[string]string, len(agents)),
		ids:   make(map[string]string, len(agents)),
	}
	// Sorted so a name shared by two ids resolves the same way every run.
	for _, id := range slices.Sorted(maps.Keys(agents)) {
		name := agents[id]
		d.names[id] = name
		if _, taken := d.ids[name]; !taken {
			d.ids[name] = id
		}
	}
	return d
}

func (d *StaticDirectory) NameOf(id string) (string, bool) {
	name, ok := d.names[id]
	return name, ok
}

func (d *StaticDirectory) IDOf(name string) (string, bool) {
	id, ok := d.ids[name]
	return id, ok
}

// identity is used when no directory is given: refs pass through.
type identity struct{}

func (identity) NameOf(string) (string, bool) { return "", false }
func (identity) IDOf(string) (string, bool)   { return "", false }

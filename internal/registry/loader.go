package registry

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Extensions is the document format for externally contributed definitions.
type Extensions struct {
	Joins   []Join    `yaml:"joins"`
	Sources []Source  `yaml:"sources"`
	GroupBy []GroupBy `yaml:"group_by"`
	Filters []Filter  `yaml:"filters"`
}

// Load decodes an extensions document and registers every definition in it.
// Joins are registered first so the other sections can reference them.
func (r *Registry) Load(rd io.Reader) error {
	var ext Extensions
	dec := yaml.NewDecoder(rd)
	dec.KnownFields(true)
	if err := dec.Decode(&ext); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("registry: error decoding extensions: %w", err)
	}

	for _, j := range ext.Joins {
		if err := r.RegisterJoin(j); err != nil {
			return err
		}
	}
	for _, s := range ext.Sources {
		if err := r.RegisterSource(s); err != nil {
			return err
		}
	}
	for _, g := range ext.GroupBy {
		if err := r.RegisterGroupBy(g); err != nil {
			return err
		}
	}
	for _, f := range ext.Filters {
		if err := r.RegisterFilter(f); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile registers definitions from a YAML file.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("registry: error opening %s: %w", path, err)
	}
	defer f.Close()
	return r.Load(f)
}

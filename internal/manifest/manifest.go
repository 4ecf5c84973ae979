// Package manifest reads YAML edit manifests for batch replacements.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists replacements to apply to one or more bundles. The
// top-level Bundle, Output and Edits describe a single target; Bundles lists
// further ones. OutputDir sends every target without its own Output to a
// file of the same base name in that directory.
type Manifest struct {
	Bundle    string   `yaml:"bundle"`
	Output    string   `yaml:"output"`
	OutputDir string   `yaml:"output_dir"`
	Packer    string   `yaml:"packer"`
	Edits     []Edit   `yaml:"edits"`
	Bundles   []Target `yaml:"bundles"`
}

// Target is one bundle and the edits to apply to it.
type Target struct {
	Bundle string `yaml:"bundle"`
	Output string `yaml:"output"`
	Edits  []Edit `yaml:"edits"`
}

// Edit replaces one object with the contents of Source. File may be left
// empty when the bundle holds a single serialized file.
type Edit struct {
	File   string `yaml:"file"`
	PathID int64  `yaml:"path_id"`
	Source string `yaml:"source"`
	// Kind is "text" or "image"; empty infers it from Source's extension.
	Kind string `yaml:"kind"`
}

const (
	KindText  = "text"
	KindImage = "image"
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// ResolvedKind returns the payload kind of the edit.
func (e Edit) ResolvedKind() string {
	if e.Kind != "" {
		return strings.ToLower(e.Kind)
	}
	if imageExts[strings.ToLower(filepath.Ext(e.Source))] {
		return KindImage
	}
	return KindText
}

// Load reads a manifest. Relative paths are resolved against the
// manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	m.resolve(filepath.Dir(path))
	return m, nil
}

// Parse decodes and validates manifest YAML. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Targets returns the top-level target, if any, followed by Bundles.
func (m *Manifest) Targets() []Target {
	var targets []Target
	if m.Bundle != "" || m.Output != "" || len(m.Edits) > 0 {
		targets = append(targets, Target{Bundle: m.Bundle, Output: m.Output, Edits: m.Edits})
	}
	return append(targets, m.Bundles...)
}

// Validate checks required fields and rejects duplicate targets, both
// within a bundle and across bundles.
func (m *Manifest) Validate() error {
	targets := m.Targets()
	if len(targets) == 0 {
		return errors.New("bundle is required")
	}
	var problems []error
	bundles := map[string]int{}
	outputs := map[string]int{}
	for i, t := range targets {
		name := fmt.Sprintf("bundle %d", i)
		if t.Bundle == "" {
			problems = append(problems, fmt.Errorf("%s: bundle is required", name))
		} else {
			name = t.Bundle
			if j, dup := bundles[t.Bundle]; dup {
				problems = append(problems, fmt.Errorf("%s: listed as bundle %d and %d", name, j, i))
			}
			bundles[t.Bundle] = i
			dest := m.Destination(t)
			if j, dup := outputs[dest]; dup {
				problems = append(problems, fmt.Errorf("%s: output %s is also written by bundle %d", name, dest, j))
			}
			outputs[dest] = i
		}
		if len(t.Edits) == 0 {
			problems = append(problems, fmt.Errorf("%s: at least one edit is required", name))
		}
		seen := map[string]int{}
		for k, e := range t.Edits {
			if e.Source == "" {
				problems = append(problems, fmt.Errorf("%s: edit %d: source is required", name, k))
			}
			switch e.ResolvedKind() {
			case KindText, KindImage:
			default:
				problems = append(problems, fmt.Errorf("%s: edit %d: unknown kind %q", name, k, e.Kind))
			}
			key := fmt.Sprintf("%s:%d", e.File, e.PathID)
			if j, dup := seen[key]; dup {
				problems = append(problems, fmt.Errorf("%s: edit %d: targets the same object as edit %d", name, k, j))
			}
			seen[key] = k
		}
	}
	return errors.Join(problems...)
}

func (m *Manifest) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	edits := func(es []Edit) {
		for i := range es {
			es[i].Source = abs(es[i].Source)
		}
	}
	m.Bundle = abs(m.Bundle)
	m.Output = abs(m.Output)
	m.OutputDir = abs(m.OutputDir)
	edits(m.Edits)
	for i := range m.Bundles {
		m.Bundles[i].Bundle = abs(m.Bundles[i].Bundle)
		m.Bundles[i].Output = abs(m.Bundles[i].Output)
		edits(m.Bundles[i].Edits)
	}
}

// Destination returns where t is written: its own output, else a file of
// the same name in OutputDir, else the bundle itself.
func (m *Manifest) Destination(t Target) string {
	switch {
	case t.Output != "":
		return t.Output
	case m.OutputDir != "" && t.Bundle != "":
		return filepath.Join(m.OutputDir, filepath.Base(t.Bundle))
	}
	return t.Bundle
}

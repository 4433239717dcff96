// Package timectrl loads the time-control catalog from embedded defaults
// and an optional override directory.
package timectrl

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	yaml "gopkg.in/yaml.v3"
)

//go:embed timecontrols.yaml
var defaultFiles embed.FS

// Control is one playable time-control class.
type Control struct {
	Class     string        `json:"class"`
	Initial   time.Duration `json:"initial"`
	Increment time.Duration `json:"increment"`
}

type controlSpec struct {
	Initial   string `yaml:"initial"`
	Increment string `yaml:"increment"`
}

// Catalog maps time-control class names to their clock settings.
type Catalog struct {
	mu       sync.RWMutex
	data     map[string]Control
	fallback string
}

// New loads the embedded defaults, then applies overrides from dir if
// provided. fallback names the class returned for unknown lookups.
func New(dir, fallback string) (*Catalog, error) {
	c := &Catalog{data: make(map[string]Control), fallback: strings.TrimSpace(fallback)}
	raw, err := fs.ReadFile(defaultFiles, "timecontrols.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded time controls: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) != "" {
		if err := c.applyDir(dir); err != nil {
			return nil, err
		}
	}
	if c.fallback == "" {
		c.fallback = "blitz"
	}
	if _, ok := c.data[c.fallback]; !ok {
		return nil, fmt.Errorf("fallback time control %q not defined", c.fallback)
	}
	return c, nil
}

// Get returns the control for class, falling back to the default class
// when the requested one is unknown.
func (c *Catalog) Get(class string) Control {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ctl, ok := c.data[strings.TrimSpace(class)]; ok {
		return ctl
	}
	return c.data[c.fallback]
}

// Known reports whether class is defined in the catalog.
func (c *Catalog) Known(class string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.data[strings.TrimSpace(class)]
	return ok
}

// Classes returns all defined class names, sorted.
func (c *Catalog) Classes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.data))
	for k := range c.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read time control dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.applyYAML(b); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (c *Catalog) applyYAML(b []byte) error {
	var specs map[string]controlSpec
	if err := yaml.Unmarshal(b, &specs); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for class, spec := range specs {
		initial, err := time.ParseDuration(strings.TrimSpace(spec.Initial))
		if err != nil || initial <= 0 {
			return fmt.Errorf("time control %q: invalid initial %q", class, spec.Initial)
		}
		increment := time.Duration(0)
		if strings.TrimSpace(spec.Increment) != "" {
			increment, err = time.ParseDuration(strings.TrimSpace(spec.Increment))
			if err != nil || increment < 0 {
				return fmt.Errorf("time control %q: invalid increment %q", class, spec.Increment)
			}
		}
		c.data[strings.TrimSpace(class)] = Control{
			Class:     strings.TrimSpace(class),
			Initial:   initial,
			Increment: increment,
		}
	}
	return nil
}

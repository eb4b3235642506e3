// Package catalog holds the task content pool. Tasks are drawn when a roll
// creates a task instance; an empty or missing pool is tolerated and yields
// task instances without content.
package catalog

import (
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"starsteps.app/internal/session"
)

// KindAny entries are eligible for every task type.
const KindAny = "any"

type Entry struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // star | trap | collision | any
	Text string `yaml:"text"`
}

type poolFile struct {
	Tasks []Entry `yaml:"tasks"`
}

// Catalog is safe for concurrent draws while the watcher reloads.
type Catalog struct {
	path string
	log  *log.Logger

	mu      sync.RWMutex
	entries []Entry
}

// Load reads the pool at path. A missing file is an empty pool, not an
// error; the product treats an exhausted task library as a valid state.
func Load(path string, logger *log.Logger) (*Catalog, error) {
	c := &Catalog{path: path, log: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Reload() error {
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		c.mu.Lock()
		c.entries = nil
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	var f poolFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("task catalog: %w", err)
	}
	valid := f.Tasks[:0]
	for _, e := range f.Tasks {
		switch e.Kind {
		case string(session.TaskStar), string(session.TaskTrap), string(session.TaskCollision), KindAny:
			valid = append(valid, e)
		default:
			if c.log != nil {
				c.log.Printf("task %q: unknown kind %q, skipped", e.ID, e.Kind)
			}
		}
	}
	c.mu.Lock()
	c.entries = valid
	c.mu.Unlock()
	return nil
}

// Len reports the number of loaded entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Draw picks a task uniformly among entries matching the kind (plus "any"
// entries) using the supplied draw function. Returns nil when no entry
// matches: the caller creates the task instance without content.
func (c *Catalog) Draw(kind session.TaskType, intn func(n int) int) *session.TaskContent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eligible := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Kind == string(kind) || e.Kind == KindAny {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	e := eligible[intn(len(eligible))]
	return &session.TaskContent{ID: e.ID, Text: e.Text}
}

package msgcat

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	yaml "gopkg.in/yaml.v3"
)

const defaultFile = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds user-facing message templates keyed by dotted path
// ("coordinator.turn"). Templates use text/template with missingkey=error.
type Catalog struct {
	mu        sync.RWMutex
	source    map[string]string
	templates map[string]*template.Template
}

// New loads the embedded messages and applies *.yaml overrides from overrideDir.
func New(overrideDir string) (*Catalog, error) {
	c := &Catalog{source: make(map[string]string), templates: make(map[string]*template.Template)}

	raw, err := defaultFiles.ReadFile(defaultFile)
	if err != nil {
		return nil, fmt.Errorf("read embedded messages: %w", err)
	}
	if err := c.merge(raw, defaultFile); err != nil {
		return nil, err
	}
	if dir := strings.TrimSpace(overrideDir); dir != "" {
		if err := c.mergeDir(dir); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) mergeDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read message dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	owner := make(map[string]string)
	for _, name := range files {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		flat, err := flatten(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		for k := range flat {
			if prev, ok := owner[k]; ok {
				return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
			}
			owner[k] = name
		}
		if err := c.store(flat, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) merge(raw []byte, name string) error {
	flat, err := flatten(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return c.store(flat, name)
}

// store parses every template up front so a broken override fails at load time.
func (c *Catalog) store(flat map[string]string, name string) error {
	parsed := make(map[string]*template.Template, len(flat))
	for k, v := range flat {
		t, err := template.New(k).Option("missingkey=error").Parse(v)
		if err != nil {
			return fmt.Errorf("%s: template %s: %w", name, k, err)
		}
		parsed[k] = t
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, t := range parsed {
		c.source[k] = flat[k]
		c.templates[k] = t
	}
	return nil
}

func flatten(raw []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if err := walk(root, "", out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(node any, prefix string, out map[string]string) error {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if err := walk(child, key, out); err != nil {
				return err
			}
		}
	case string:
		if prefix == "" {
			return fmt.Errorf("string value without key")
		}
		out[prefix] = v
	case nil:
	default:
		return fmt.Errorf("unsupported value at %s: %T", prefix, v)
	}
	return nil
}

// Has reports whether key is defined.
func (c *Catalog) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.templates[strings.TrimSpace(key)]
	return ok
}

// Render executes the template stored under key. Unknown keys and missing
// data fields are errors; callers supply their own fallback.
func (c *Catalog) Render(key string, data any) (string, error) {
	key = strings.TrimSpace(key)
	c.mu.RLock()
	t, ok := c.templates[key]
	c.mu.RUnlock()
	if !ok || strings.TrimSpace(c.raw(key)) == "" {
		return "", fmt.Errorf("template not found: %s", key)
	}
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *Catalog) raw(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source[key]
}

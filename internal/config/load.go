package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relayhost/terminalmgr/pkg/terminalmgr"
)

// HostCollection pairs a Host's connection parameters with its already
// validated Collection, ready to hand to terminalmgr.New.
type HostCollection struct {
	Host       Host
	Collection *terminalmgr.Collection
}

// Load reads and parses the YAML catalog at path, converting every host's
// declarative catalog into a terminalmgr.Collection. A malformed document,
// or any host whose catalog fails construction or Collection.Check, makes
// the whole load fail: callers hot-reloading should keep running the
// previously loaded configuration on error (see Watcher).
func Load(path string) ([]HostCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse converts raw YAML into host collections without touching disk;
// exported so tests and Load share the same path.
func Parse(data []byte) ([]HostCollection, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	seen := make(map[string]bool, len(doc.Hosts))
	out := make([]HostCollection, 0, len(doc.Hosts))
	for i, h := range doc.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("config: host #%d: name is required", i)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("config: duplicate host name %q", h.Name)
		}
		seen[h.Name] = true

		col, err := h.ToCollection()
		if err != nil {
			return nil, fmt.Errorf("config: host %q: %w", h.Name, err)
		}
		out = append(out, HostCollection{Host: h, Collection: col})
	}
	return out, nil
}

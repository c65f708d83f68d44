package memorytracker

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/hzjiangm/memtracker/lib/flagutil"
)

// Config declares a hierarchy of named trackers.
//
// Example config for the usual query -> user -> global chain:
//
//	trackers:
//	  - name: global
//	    limit: 16GiB
//	    metric: memtracker_usage_bytes{scope="global"}
//	  - name: user
//	    parent: global
//	    limit: 8GiB
//	    description: (for user)
//	  - name: query
//	    parent: user
//	    limit: 4GiB
//	    description: (for query)
type Config struct {
	Trackers []TrackerConfig `yaml:"trackers"`
}

// TrackerConfig declares a single tracker in a Config.
type TrackerConfig struct {
	// Name identifies the tracker in the hierarchy. Required and unique.
	Name string `yaml:"name"`

	// Parent is the name of the tracker receiving every delta charged
	// to this tracker. Empty for root trackers.
	Parent string `yaml:"parent,omitempty"`

	// Limit is the maximum allowed amount with an optional size suffix,
	// e.g. "512MiB". Empty or "0" means "no limit".
	Limit string `yaml:"limit,omitempty"`

	// Metric is an optional gauge name mirroring the attributed amount.
	Metric string `yaml:"metric,omitempty"`

	// Description is an optional label used in diagnostic output.
	Description string `yaml:"description,omitempty"`

	// FaultProbability is the probability in [0..1] of a synthetic
	// allocation failure. Used only in testing setups.
	FaultProbability float64 `yaml:"fault_probability,omitempty"`
}

// Hierarchy is a set of linked trackers built from a Config.
type Hierarchy struct {
	trackers map[string]*Tracker

	// closeOrder lists tracker names so that every tracker precedes
	// its parent. MustClose relies on this.
	closeOrder []string
}

// LoadHierarchy loads a tracker hierarchy from the given YAML file.
func LoadHierarchy(path string) (*Hierarchy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read tracker config: %w", err)
	}
	h, err := ParseHierarchy(data)
	if err != nil {
		return nil, fmt.Errorf("cannot parse tracker config %q: %w", path, err)
	}
	return h, nil
}

// ParseHierarchy parses a tracker hierarchy from the given YAML data.
func ParseHierarchy(data []byte) (*Hierarchy, error) {
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config data: %w", err)
	}
	if len(cfg.Trackers) == 0 {
		return nil, fmt.Errorf("missing `trackers` section")
	}

	byName := make(map[string]*TrackerConfig, len(cfg.Trackers))
	for i := range cfg.Trackers {
		tc := &cfg.Trackers[i]
		if tc.Name == "" {
			return nil, fmt.Errorf("missing `name` for tracker #%d", i)
		}
		if _, ok := byName[tc.Name]; ok {
			return nil, fmt.Errorf("duplicate tracker name %q", tc.Name)
		}
		if tc.FaultProbability < 0 || tc.FaultProbability > 1 {
			return nil, fmt.Errorf("`fault_probability` for tracker %q must be in the range [0..1]; got %g", tc.Name, tc.FaultProbability)
		}
		byName[tc.Name] = tc
	}

	h := &Hierarchy{
		trackers: make(map[string]*Tracker, len(cfg.Trackers)),
	}
	for i := range cfg.Trackers {
		tc := &cfg.Trackers[i]
		if _, err := h.buildTracker(tc, byName, make(map[string]bool)); err != nil {
			return nil, err
		}
	}

	// Order trackers so that children precede their parents.
	depths := make(map[string]int, len(cfg.Trackers))
	for name, tc := range byName {
		depth := 0
		for tc.Parent != "" {
			tc = byName[tc.Parent]
			depth++
		}
		depths[name] = depth
	}
	for i := range cfg.Trackers {
		h.closeOrder = append(h.closeOrder, cfg.Trackers[i].Name)
	}
	sort.SliceStable(h.closeOrder, func(i, j int) bool {
		return depths[h.closeOrder[i]] > depths[h.closeOrder[j]]
	})

	return h, nil
}

func (h *Hierarchy) buildTracker(tc *TrackerConfig, byName map[string]*TrackerConfig, visited map[string]bool) (*Tracker, error) {
	if mt := h.trackers[tc.Name]; mt != nil {
		return mt, nil
	}
	if visited[tc.Name] {
		return nil, fmt.Errorf("cycle in `parent` chain at tracker %q", tc.Name)
	}
	visited[tc.Name] = true

	var parent *Tracker
	if tc.Parent != "" {
		ptc := byName[tc.Parent]
		if ptc == nil {
			return nil, fmt.Errorf("unknown `parent` %q for tracker %q", tc.Parent, tc.Name)
		}
		var err error
		parent, err = h.buildTracker(ptc, byName, visited)
		if err != nil {
			return nil, err
		}
	}

	limit, err := flagutil.ParseBytes(tc.Limit)
	if err != nil {
		return nil, fmt.Errorf("cannot parse `limit` for tracker %q: %w", tc.Name, err)
	}
	mt := New(limit)
	mt.SetNext(parent)
	mt.SetDescription(tc.Description)
	if tc.FaultProbability > 0 {
		mt.SetFaultProbability(tc.FaultProbability)
	}
	if tc.Metric != "" {
		mt.SetMetric(tc.Metric)
	}
	h.trackers[tc.Name] = mt
	return mt, nil
}

// Tracker returns the tracker with the given name, or nil if there is none.
func (h *Hierarchy) Tracker(name string) *Tracker {
	return h.trackers[name]
}

// MustClose closes every tracker in the hierarchy, children before parents.
//
// Every tracker logs its peak attributed amount on close.
func (h *Hierarchy) MustClose() {
	for _, name := range h.closeOrder {
		h.trackers[name].MustClose()
	}
}

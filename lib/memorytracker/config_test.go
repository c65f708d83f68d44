package memorytracker

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHierarchySuccess(t *testing.T) {
	data := []byte(`
trackers:
  - name: global
    limit: 1KiB
  - name: user
    parent: global
    limit: 512
    description: (for user)
  - name: query
    parent: user
    limit: 256
`)
	h, err := ParseHierarchy(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	query := h.Tracker("query")
	if query == nil {
		t.Fatalf("missing query tracker")
	}
	if h.Tracker("missing") != nil {
		t.Fatalf("expecting nil tracker for unknown name")
	}

	// A delta charged to the leaf must propagate to every level.
	if err := query.Alloc(100); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	for _, name := range []string{"query", "user", "global"} {
		if got := h.Tracker(name).Get(); got != 100 {
			t.Fatalf("unexpected amount at %q; got %d; want 100", name, got)
		}
	}

	// Limits must be parsed with size suffixes.
	global := h.Tracker("global")
	if global.limit != 1024 {
		t.Fatalf("unexpected global limit; got %d; want 1024", global.limit)
	}
	if got := h.Tracker("user").description; got != "(for user)" {
		t.Fatalf("unexpected user description: %q", got)
	}
}

func TestParseHierarchyCloseOrder(t *testing.T) {
	data := []byte(`
trackers:
  - name: global
  - name: query-1
    parent: user
  - name: user
    parent: global
  - name: query-2
    parent: user
`)
	h, err := ParseHierarchy(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	closeOrderExpected := []string{"query-1", "query-2", "user", "global"}
	if diff := cmp.Diff(closeOrderExpected, h.closeOrder); diff != "" {
		t.Fatalf("unexpected close order (-want +got):\n%s", diff)
	}
}

func TestParseHierarchyParentLimit(t *testing.T) {
	data := []byte(`
trackers:
  - name: global
    limit: 200
    description: (total)
  - name: query
    parent: global
`)
	h, err := ParseHierarchy(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	query := h.Tracker("query")
	if err := query.Alloc(150); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := query.Alloc(150); err == nil {
		t.Fatalf("expecting non-nil error when the global limit is exceeded")
	}
}

func TestParseHierarchyFailure(t *testing.T) {
	f := func(data string) {
		t.Helper()
		if _, err := ParseHierarchy([]byte(data)); err == nil {
			t.Fatalf("expecting non-nil error for config:\n%s", data)
		}
	}
	// Invalid YAML.
	f(`]`)
	// Missing trackers section.
	f(``)
	f(`trackers: []`)
	// Unknown field in strict mode.
	f(`
trackers:
  - name: a
    foobar: 1
`)
	// Missing name.
	f(`
trackers:
  - limit: 100
`)
	// Duplicate name.
	f(`
trackers:
  - name: a
  - name: a
`)
	// Unknown parent.
	f(`
trackers:
  - name: a
    parent: missing
`)
	// Parent cycle.
	f(`
trackers:
  - name: a
    parent: b
  - name: b
    parent: a
`)
	// Self-parent.
	f(`
trackers:
  - name: a
    parent: a
`)
	// Invalid limit.
	f(`
trackers:
  - name: a
    limit: foobar
`)
	// Fault probability out of range.
	f(`
trackers:
  - name: a
    fault_probability: 1.5
`)
	f(`
trackers:
  - name: a
    fault_probability: -0.5
`)
}

func TestParseHierarchyFaultProbability(t *testing.T) {
	data := []byte(`
trackers:
  - name: flaky
    fault_probability: 1
`)
	h, err := ParseHierarchy(data)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if err := h.Tracker("flaky").Alloc(10); err == nil {
		t.Fatalf("expecting non-nil error with fault probability 1")
	}
}

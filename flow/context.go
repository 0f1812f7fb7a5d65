package flow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PathError reports a template path that could not be navigated in the run
// context: either a missing key or an index into something that is not a
// list.
type PathError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("unresolved path %q: segment %q %s", e.Path, e.Segment, e.Reason)
}

// LookupPath navigates a dot-separated path through a nested JSON tree.
// String segments index maps; numeric segments index lists. The value is
// returned with its type intact.
func LookupPath(scope map[string]any, path string) (any, error) {
	segments := strings.Split(path, ".")
	var cur any = scope
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, &PathError{Path: path, Segment: seg, Reason: "is empty"}
		}
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, &PathError{Path: path, Segment: seg, Reason: "not found"}
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, &PathError{Path: path, Segment: seg, Reason: "is not a list index"}
			}
			if idx < 0 || idx >= len(node) {
				return nil, &PathError{Path: path, Segment: seg, Reason: "is out of range"}
			}
			cur = node[idx]
		default:
			return nil, &PathError{Path: path, Segment: seg, Reason: "cannot descend into scalar"}
		}
	}
	return cur, nil
}

// deepCopyMap clones a JSON tree so callers can mutate their copy freely.
func deepCopyMap(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		out := make(map[string]any, len(in))
		for k, v := range in {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// buildScope assembles the template scope for a run: the shared context tree
// with the run input mounted under "input". Step outputs already live at the
// top level under their step ids.
func buildScope(runContext, input map[string]any) map[string]any {
	scope := deepCopyMap(runContext)
	if _, ok := scope["input"]; !ok {
		scope["input"] = deepCopyMap(input)
	}
	return scope
}

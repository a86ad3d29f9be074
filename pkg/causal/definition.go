package causal

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
)

// Definition is the document a graph is materialized from. It mirrors the
// stored form: a list of node records and a list of edge records, both of
// which may carry arbitrary extra fields.
type Definition struct {
	Nodes []Node       `json:"nodes"`
	Edges []EdgeRecord `json:"edges"`
}

// Node is a factor in the causal graph. Everything besides the id is kept in
// Attributes and handed back unchanged.
type Node struct {
	ID         string
	Attributes map[string]any
}

// EdgeRecord is an edge as it appears in a definition. Numeric fields are
// pointers so that an absent value can be told apart from an explicit zero.
type EdgeRecord struct {
	Source     string
	Target     string
	Weight     *float64
	LagDays    *int
	Sign       *int
	Attributes map[string]any
}

var nodeKeys = []string{"id"}

var edgeKeys = []string{"source", "target", "weight", "lag_days", "sign"}

// MarshalJSON flattens the attributes next to the id.
func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Attributes)+1)
	maps.Copy(out, n.Attributes)
	out["id"] = n.ID
	return json.Marshal(out)
}

// UnmarshalJSON accepts any JSON value. Records that are not objects or
// carry no string id decode to a Node with an empty ID, which the graph
// builder skips.
func (n *Node) UnmarshalJSON(data []byte) error {
	*n = Node{}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}

	n.ID, _ = raw["id"].(string)
	n.Attributes = extraFields(raw, nodeKeys)
	return nil
}

// MarshalJSON writes only the numeric fields that were present.
func (e EdgeRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Attributes)+5)
	maps.Copy(out, e.Attributes)
	out["source"] = e.Source
	out["target"] = e.Target
	if e.Weight != nil {
		out["weight"] = *e.Weight
	}
	if e.LagDays != nil {
		out["lag_days"] = *e.LagDays
	}
	if e.Sign != nil {
		out["sign"] = *e.Sign
	}
	return json.Marshal(out)
}

// UnmarshalJSON is lenient: non-object records, non-string endpoints and
// non-numeric weights decode as missing values. Integer fields given as
// fractional numbers are truncated.
func (e *EdgeRecord) UnmarshalJSON(data []byte) error {
	*e = EdgeRecord{}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil
	}

	e.Source, _ = raw["source"].(string)
	e.Target, _ = raw["target"].(string)
	if v, ok := numberField(raw, "weight"); ok {
		e.Weight = &v
	}
	if v, ok := numberField(raw, "lag_days"); ok {
		lag := int(v)
		e.LagDays = &lag
	}
	if v, ok := numberField(raw, "sign"); ok {
		sign := int(v)
		e.Sign = &sign
	}
	e.Attributes = extraFields(raw, edgeKeys)
	return nil
}

func numberField(raw map[string]any, key string) (float64, bool) {
	v, ok := raw[key].(float64)
	if !ok || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func extraFields(raw map[string]any, known []string) map[string]any {
	var out map[string]any
	for k, v := range raw {
		if slices.Contains(known, k) {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		out[k] = v
	}
	return out
}

// Float returns a pointer to v. It is a convenience for building edge
// records in code.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}

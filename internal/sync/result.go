package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// WriteKind is the outcome kind of a single row write.
type WriteKind string

const (
	WriteInsert WriteKind = "insert"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// WriteResult is the outcome of one row.
type WriteResult struct {
	Entity  string         `json:"entity"`
	Key     PrimaryKey     `json:"key"`
	Payload map[string]any `json:"payload,omitempty"`
	Kind    WriteKind      `json:"kind"`
}

// Group holds the results of one entity collection in write order.
type Group struct {
	Entity  string
	Results []WriteResult
}

// Grouped collects write results by entity. Entity order follows first
// occurrence; results keep the order they were added in.
type Grouped struct {
	groups []Group
	index  map[string]int
}

// Add appends r to the group of r.Entity.
func (g *Grouped) Add(r WriteResult) {
	if g.index == nil {
		g.index = make(map[string]int)
	}
	i, ok := g.index[r.Entity]
	if !ok {
		i = len(g.groups)
		g.index[r.Entity] = i
		g.groups = append(g.groups, Group{Entity: r.Entity})
	}
	g.groups[i].Results = append(g.groups[i].Results, r)
}

// Groups returns the groups in first-occurrence order.
func (g *Grouped) Groups() []Group {
	if g == nil {
		return nil
	}
	return g.groups
}

// Get returns the results of one entity.
func (g *Grouped) Get(entity string) []WriteResult {
	if g == nil || g.index == nil {
		return nil
	}
	i, ok := g.index[entity]
	if !ok {
		return nil
	}
	return g.groups[i].Results
}

// Len returns the total number of results across all groups.
func (g *Grouped) Len() int {
	if g == nil {
		return 0
	}
	n := 0
	for _, grp := range g.groups {
		n += len(grp.Results)
	}
	return n
}

// WriteResultSet is the writer's outcome for one sync call.
type WriteResultSet struct {
	Written  Grouped
	Deleted  Grouped
	NotFound Grouped
}

// EntityKeyList is the ordered key list of one entity.
type EntityKeyList struct {
	Entity string
	Keys   []PrimaryKey
}

// EntityKeys maps entity names to key lists. It serializes as a JSON object
// whose members appear in slice order.
type EntityKeys []EntityKeyList

// Get returns the keys of entity, or nil.
func (e EntityKeys) Get(entity string) []PrimaryKey {
	for _, l := range e {
		if l.Entity == entity {
			return l.Keys
		}
	}
	return nil
}

// Entities returns the entity names in order.
func (e EntityKeys) Entities() []string {
	names := make([]string, len(e))
	for i, l := range e {
		names[i] = l.Entity
	}
	return names
}

// Strings returns entity -> canonical key strings.
func (e EntityKeys) Strings() map[string][]string {
	out := make(map[string][]string, len(e))
	for _, l := range e {
		keys := make([]string, len(l.Keys))
		for i, k := range l.Keys {
			keys[i] = k.String()
		}
		out[l.Entity] = keys
	}
	return out
}

// MarshalJSON implements json.Marshaler.
func (e EntityKeys) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range e {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(l.Entity)
		if err != nil {
			return nil, err
		}
		keys := l.Keys
		if keys == nil {
			keys = []PrimaryKey{}
		}
		list, err := json.Marshal(keys)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(list)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, preserving member order.
func (e *EntityKeys) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*e = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("entity keys: expected object, got %v", tok)
	}

	out := EntityKeys{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("entity keys: expected entity name, got %v", tok)
		}
		var keys []PrimaryKey
		if err := dec.Decode(&keys); err != nil {
			return fmt.Errorf("entity keys %q: %w", name, err)
		}
		out = append(out, EntityKeyList{Entity: name, Keys: keys})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*e = out
	return nil
}

// Result is the summary returned by a sync call.
type Result struct {
	Written  EntityKeys `json:"written"`
	NotFound EntityKeys `json:"notFound"`
	Deleted  EntityKeys `json:"deleted"`
}

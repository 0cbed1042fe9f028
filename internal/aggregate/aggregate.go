// Package aggregate builds the summary of a sync call from writer results
// and delete events. Everything here is pure.
package aggregate

import (
	"sort"

	"github.com/hyperengineering/entsync/internal/event"
	entsync "github.com/hyperengineering/entsync/internal/sync"
)

// ByEntity collects the keys of grouped writer results per entity. Keys
// keep result order; entities are sorted by name.
func ByEntity(results *entsync.Grouped) entsync.EntityKeys {
	out := entsync.EntityKeys{}
	for _, g := range results.Groups() {
		keys := make([]entsync.PrimaryKey, len(g.Results))
		for i, r := range g.Results {
			keys[i] = r.Key
		}
		out = append(out, entsync.EntityKeyList{Entity: g.Entity, Keys: keys})
	}
	sortByEntity(out)
	return out
}

// ByEvents concatenates the keys of events per entity in stream order, so
// several events for one entity yield a single list. Entities are sorted by
// name.
func ByEvents(events []*event.EntityWrittenEvent) entsync.EntityKeys {
	out := entsync.EntityKeys{}
	index := make(map[string]int)
	for _, e := range events {
		i, ok := index[e.Entity]
		if !ok {
			i = len(out)
			index[e.Entity] = i
			out = append(out, entsync.EntityKeyList{Entity: e.Entity, Keys: []entsync.PrimaryKey{}})
		}
		out[i].Keys = append(out[i].Keys, e.IDs()...)
	}
	sortByEntity(out)
	return out
}

// Build assembles the sync result: written and not-found keys from the
// writer's groupings, deleted keys from the delete events of stream.
func Build(set *entsync.WriteResultSet, stream *event.Container) *entsync.Result {
	if set == nil {
		set = &entsync.WriteResultSet{}
	}
	return &entsync.Result{
		Written:  ByEntity(&set.Written),
		NotFound: ByEntity(&set.NotFound),
		Deleted:  ByEvents(stream.Filter(event.KindDeleted)),
	}
}

func sortByEntity(keys entsync.EntityKeys) {
	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Entity < keys[j].Entity })
}

// Package sync defines the data model of a bulk sync call: the operations a
// caller submits, the behavior switches, the writer's grouped results and the
// summary returned to the caller.
package sync

import (
	"fmt"
	"slices"
	"time"

	"github.com/hyperengineering/entsync/internal/execctx"
)

// Action is the kind of write an operation applies to its payloads.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var actions = []Action{ActionUpsert, ActionCreate, ActionUpdate, ActionDelete}

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidOperation, s)
	}
	return a, nil
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return slices.Contains(actions, a)
}

// RequiresKey reports whether every payload must carry its full primary key.
func (a Action) RequiresKey() bool {
	return a == ActionUpdate || a == ActionDelete
}

// Operation is one named unit of work against a single entity collection.
type Operation struct {
	// Key is an optional caller label echoed in error reports.
	Key     string           `json:"key,omitempty" yaml:"key,omitempty"`
	Entity  string           `json:"entity" yaml:"entity"`
	Action  Action           `json:"action" yaml:"action"`
	Payload []map[string]any `json:"payload" yaml:"payload"`
}

// Label returns Key, or a positional fallback.
func (o Operation) Label(index int) string {
	if o.Key != "" {
		return o.Key
	}
	return fmt.Sprintf("operation-%d", index)
}

// IndexingBehavior selects how indexers react to a sync call.
type IndexingBehavior string

const (
	// IndexingSynchronous runs indexers inline during dispatch.
	IndexingSynchronous IndexingBehavior = ""
	// IndexingDisabled skips all indexers.
	IndexingDisabled IndexingBehavior = IndexingBehavior(execctx.StateDisableIndexing)
	// IndexingQueued defers indexers to the index queue.
	IndexingQueued IndexingBehavior = IndexingBehavior(execctx.StateUseQueueIndexing)
)

// ParseIndexingBehavior validates s as an IndexingBehavior.
func ParseIndexingBehavior(s string) (IndexingBehavior, error) {
	b := IndexingBehavior(s)
	switch b {
	case IndexingSynchronous, IndexingDisabled, IndexingQueued:
		return b, nil
	}
	return "", fmt.Errorf("%w: unknown indexing behavior %q", ErrInvalidOperation, s)
}

// State returns the execution-context state this behavior records, if any.
func (b IndexingBehavior) State() (execctx.State, bool) {
	switch b {
	case IndexingDisabled, IndexingQueued:
		return execctx.State(b), true
	}
	return "", false
}

// Behavior carries the cross-cutting switches of one sync call.
type Behavior struct {
	SkipIndexers []string         `json:"skip_indexers,omitempty"`
	Indexing     IndexingBehavior `json:"indexing_behavior,omitempty"`
}

// Validate checks the indexing behavior.
func (b Behavior) Validate() error {
	_, err := ParseIndexingBehavior(string(b.Indexing))
	return err
}

// WriteContext is the writer's view of a prepared execution context.
type WriteContext struct {
	Exec *execctx.Context
	Now  time.Time
}

// NewWriteContext wraps ec, stamping the current UTC time.
func NewWriteContext(ec *execctx.Context) *WriteContext {
	if ec == nil {
		ec = execctx.System()
	}
	return &WriteContext{Exec: ec, Now: time.Now().UTC()}
}

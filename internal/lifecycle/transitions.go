package lifecycle

import (
	"sync"

	"klinikcare/internal/models"
)

// KindSpec declares the state graph for one entity kind. The graph is pure
// data: adding a kind or an edge never requires touching the engine.
type KindSpec struct {
	Name        string              `yaml:"name"`
	Initial     string              `yaml:"initial"`
	Transitions map[string][]string `yaml:"transitions"`
}

// Table maps entity kinds to their transition graphs.
type Table struct {
	mu    sync.RWMutex
	kinds map[string]KindSpec
}

// NewTable returns a table preloaded with the built-in clinic kinds.
func NewTable() *Table {
	t := &Table{kinds: make(map[string]KindSpec)}
	for _, spec := range builtinKinds() {
		t.kinds[spec.Name] = spec
	}
	return t
}

func builtinKinds() []KindSpec {
	return []KindSpec{
		{
			Name:    models.KindBooking,
			Initial: models.StatusPending,
			Transitions: map[string][]string{
				models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled},
				models.StatusConfirmed: {models.StatusCompleted},
				// cancelled bookings may be reactivated by an admin
				models.StatusCancelled: {models.StatusPending},
				models.StatusCompleted: {},
			},
		},
		{
			Name:    models.KindOrder,
			Initial: models.StatusPending,
			Transitions: map[string][]string{
				models.StatusPending:    {models.StatusProcessing, models.StatusCancelled},
				models.StatusProcessing: {models.StatusShipped, models.StatusCancelled},
				models.StatusShipped:    {models.StatusDelivered, models.StatusCancelled},
				models.StatusDelivered:  {models.StatusCompleted, models.StatusCancelled},
				models.StatusCompleted:  {},
				models.StatusCancelled:  {},
			},
		},
		{
			Name:    models.KindWithdrawal,
			Initial: models.StatusPending,
			Transitions: map[string][]string{
				models.StatusPending:  {models.StatusApproved, models.StatusRejected},
				models.StatusApproved: {models.StatusPaid},
				models.StatusPaid:     {},
				models.StatusRejected: {},
			},
		},
		{
			Name:    models.KindPrescription,
			Initial: models.StatusPending,
			Transitions: map[string][]string{
				models.StatusPending:  {models.StatusApproved, models.StatusRejected},
				models.StatusApproved: {},
				models.StatusRejected: {},
			},
		},
	}
}

// Register adds or replaces a kind. Used at startup to load extra kinds
// declared in configs/kinds.yaml.
func (t *Table) Register(spec KindSpec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if spec.Transitions == nil {
		spec.Transitions = map[string][]string{}
	}
	t.kinds[spec.Name] = spec
}

// AllowedTransitions returns the legal next states for (kind, from).
// Unknown kind or state yields an empty slice, never an error.
func (t *Table) AllowedTransitions(kind, from string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.kinds[kind]
	if !ok {
		return nil
	}
	next, ok := spec.Transitions[from]
	if !ok {
		return nil
	}
	out := make([]string, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the edge (from, to) exists for kind.
func (t *Table) CanTransition(kind, from, to string) bool {
	for _, s := range t.AllowedTransitions(kind, from) {
		if s == to {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether status is a declared state of kind,
// i.e. it appears as a graph node (source or target).
func (t *Table) IsValidStatus(kind, status string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.kinds[kind]
	if !ok {
		return false
	}
	if _, ok := spec.Transitions[status]; ok {
		return true
	}
	for _, targets := range spec.Transitions {
		for _, s := range targets {
			if s == status {
				return true
			}
		}
	}
	return false
}

// IsTerminal reports whether status has no outgoing edges for kind.
func (t *Table) IsTerminal(kind, status string) bool {
	return t.IsValidStatus(kind, status) && len(t.AllowedTransitions(kind, status)) == 0
}

// InitialStatus returns the declared initial state of kind.
func (t *Table) InitialStatus(kind string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.kinds[kind]
	if !ok {
		return "", false
	}
	return spec.Initial, true
}

// HasKind reports whether kind is registered.
func (t *Table) HasKind(kind string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.kinds[kind]
	return ok
}

// Kinds returns the names of all registered kinds.
func (t *Table) Kinds() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.kinds))
	for name := range t.kinds {
		names = append(names, name)
	}
	return names
}

// Statuses returns every declared state of kind.
func (t *Table) Statuses(kind string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.kinds[kind]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for from, targets := range spec.Transitions {
		add(from)
		for _, to := range targets {
			add(to)
		}
	}
	return out
}

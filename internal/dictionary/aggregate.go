package dictionary

// AggregatedComponent collects everything one document said about a key.
type AggregatedComponent struct {
	Key string
	// DisplayName is taken from the first normalized component folded in.
	DisplayName string
	Aliases     []string
	Evidence    []EvidenceItem

	aliasSet map[string]struct{}
}

// Accumulator folds normalized components by key. It is not safe for
// concurrent use; fold after all extractions have completed.
type Accumulator struct {
	entries map[string]*AggregatedComponent
	order   []string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[string]*AggregatedComponent)}
}

// Aggregate folds items in order into a fresh accumulator.
func Aggregate(items []NormalizedComponent) *Accumulator {
	acc := NewAccumulator()
	for _, n := range items {
		acc.Add(n)
	}
	return acc
}

// Add folds one component. The first display name seen for a key is kept,
// aliases are unioned and evidence is appended without deduplication.
func (a *Accumulator) Add(n NormalizedComponent) {
	entry, ok := a.entries[n.Key]
	if !ok {
		entry = &AggregatedComponent{
			Key:         n.Key,
			DisplayName: n.DisplayName,
			aliasSet:    make(map[string]struct{}),
		}
		a.entries[n.Key] = entry
		a.order = append(a.order, n.Key)
	}
	for _, alias := range n.Aliases {
		if _, dup := entry.aliasSet[alias]; dup {
			continue
		}
		entry.aliasSet[alias] = struct{}{}
		entry.Aliases = append(entry.Aliases, alias)
	}
	entry.Evidence = append(entry.Evidence, n.Evidence...)
}

// Len reports the number of distinct keys.
func (a *Accumulator) Len() int { return len(a.order) }

// Get returns the entry for key.
func (a *Accumulator) Get(key string) (*AggregatedComponent, bool) {
	entry, ok := a.entries[key]
	return entry, ok
}

// Components returns entries in first-seen order.
func (a *Accumulator) Components() []*AggregatedComponent {
	out := make([]*AggregatedComponent, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.entries[key])
	}
	return out
}

// EvidenceCount is the total evidence across all keys.
func (a *Accumulator) EvidenceCount() int {
	total := 0
	for _, entry := range a.entries {
		total += len(entry.Evidence)
	}
	return total
}

package events

// Groups maps request keys to their records in the order they were first
// encountered. It is read-only once returned from Group.
type Groups struct {
	keys    []Key
	records map[Key][]Record
}

// Group buckets records by key. Record order inside a bucket and bucket order
// both follow the input order, which the fetcher keeps in block order.
func Group(records []Record) *Groups {
	g := &Groups{records: make(map[Key][]Record)}
	for _, rec := range records {
		key := rec.Key()
		if _, ok := g.records[key]; !ok {
			g.keys = append(g.keys, key)
		}
		g.records[key] = append(g.records[key], rec)
	}
	return g
}

// Keys returns the keys in first-encounter order.
func (g *Groups) Keys() []Key {
	if g == nil {
		return nil
	}
	out := make([]Key, len(g.keys))
	copy(out, g.keys)
	return out
}

// Records returns the history recorded for key.
func (g *Groups) Records(key Key) []Record {
	if g == nil {
		return nil
	}
	return g.records[key]
}

// Len reports the number of distinct keys.
func (g *Groups) Len() int {
	if g == nil {
		return 0
	}
	return len(g.keys)
}

// Authoritative returns the record that defines the current state of a
// request. Only the last event counts; earlier history is never folded in.
func Authoritative(history []Record) (Record, bool) {
	if len(history) == 0 {
		return Record{}, false
	}
	return history[len(history)-1], true
}

package publication

// DedupeStubs collapses stubs sharing a link. The last stub seen for a link
// wins, and it takes the position where that link first appeared.
func DedupeStubs(stubs []Stub) []Stub {
	index := make(map[string]int, len(stubs))
	out := make([]Stub, 0, len(stubs))
	for _, s := range stubs {
		if i, ok := index[s.Link]; ok {
			out[i] = s
			continue
		}
		index[s.Link] = len(out)
		out = append(out, s)
	}
	return out
}

// Merge reconciles listing stubs with detail records keyed by link. A detail
// record always replaces the stub for its link, keeping the stub's position,
// so output order is stub discovery order. Detail records for links that no
// stub announced are appended in arrival order.
func Merge(stubs []Stub, details []Record) []Record {
	index := make(map[string]int, len(stubs))
	out := make([]Record, 0, len(stubs))
	put := func(r Record) {
		if i, ok := index[r.Link]; ok {
			out[i] = r
			return
		}
		index[r.Link] = len(out)
		out = append(out, r)
	}
	for _, s := range stubs {
		put(s.Record())
	}
	for _, r := range details {
		if r.Authors == nil {
			r.Authors = []AuthorRef{}
		}
		put(r)
	}
	return out
}

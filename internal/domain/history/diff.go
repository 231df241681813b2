package history

import "sort"

// DiffResult partitions two scans' fingerprint sets: what appeared,
// what went away, and what is still there.
type DiffResult struct {
	New        []string `json:"new"`
	Resolved   []string `json:"resolved"`
	Persisting []string `json:"persisting"`
}

// Diff computes new/resolved/persisting between an earlier and a later
// scan as pure set operations over fingerprints. This is the reason
// fingerprint determinism is load-bearing: any instability here shows up
// as phantom churn in the diff. Slices come back sorted so the result is
// stable regardless of input order.
func Diff(earlier, later []string) DiffResult {
	e := toSet(earlier)
	l := toSet(later)

	d := DiffResult{
		New:        make([]string, 0),
		Resolved:   make([]string, 0),
		Persisting: make([]string, 0),
	}
	for fp := range l {
		if _, ok := e[fp]; ok {
			d.Persisting = append(d.Persisting, fp)
		} else {
			d.New = append(d.New, fp)
		}
	}
	for fp := range e {
		if _, ok := l[fp]; !ok {
			d.Resolved = append(d.Resolved, fp)
		}
	}
	sort.Strings(d.New)
	sort.Strings(d.Resolved)
	sort.Strings(d.Persisting)
	return d
}

func toSet(fps []string) map[string]struct{} {
	s := make(map[string]struct{}, len(fps))
	for _, fp := range fps {
		s[fp] = struct{}{}
	}
	return s
}

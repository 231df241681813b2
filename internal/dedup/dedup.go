package dedup

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/scanmux/scanmux/internal/domain/findings"
)

// Options tune when two findings count as the same underlying issue.
// Zero values fall back to the defaults.
type Options struct {
	// SimilarityThreshold is the minimum normalized message similarity
	// (0..1] for two findings to share a cluster.
	SimilarityThreshold float64
	// LineSlack is how many lines apart two ranges may sit and still be
	// considered the same spot.
	LineSlack int
}

const (
	defaultThreshold = 0.80
	defaultLineSlack = 2
)

func DefaultOptions() Options {
	return Options{SimilarityThreshold: defaultThreshold, LineSlack: defaultLineSlack}
}

func (o Options) normalized() Options {
	if o.SimilarityThreshold <= 0 || o.SimilarityThreshold > 1 {
		o.SimilarityThreshold = defaultThreshold
	}
	if o.LineSlack < 0 {
		o.LineSlack = defaultLineSlack
	}
	return o
}

// Cluster groups the findings, possibly from several tools, that
// describe one underlying issue.
type Cluster struct {
	RepresentativeID string            `json:"representativeId"`
	FindingIDs       []string          `json:"findingIds"`
	Tools            []string          `json:"tools"`
	Severity         findings.Severity `json:"severity"`
}

type member struct {
	idx int
	f   *findings.Finding
}

type cluster struct {
	seedMsg  string
	minStart int
	maxEnd   int
	members  []member
}

// Deduplicate clusters a run's merged finding set across tools. Two
// findings are candidates for the same cluster when they sit in the same
// file with overlapping or near-adjacent line ranges and their messages
// are similar beyond the threshold. Same-tool exact duplicates never get
// this far; they are dropped at normalization by fingerprint.
//
// Cluster membership is anchored on the first finding in the cluster, so
// results do not depend on map iteration or comparison order.
func Deduplicate(fs []findings.Finding, opts Options) []Cluster {
	opts = opts.normalized()

	buckets := make(map[string][]member)
	paths := make([]string, 0)
	for i := range fs {
		p := fs[i].Location.Path
		if _, ok := buckets[p]; !ok {
			paths = append(paths, p)
		}
		buckets[p] = append(buckets[p], member{idx: i, f: &fs[i]})
	}

	var all []*cluster
	for _, p := range paths {
		ms := buckets[p]
		sort.SliceStable(ms, func(a, b int) bool {
			if ms[a].f.Location.StartLine != ms[b].f.Location.StartLine {
				return ms[a].f.Location.StartLine < ms[b].f.Location.StartLine
			}
			return ms[a].idx < ms[b].idx
		})

		var open []*cluster
		for _, m := range ms {
			msg := strings.ToLower(m.f.Message)
			var joined *cluster
			for _, c := range open {
				if !c.near(m.f.Location, opts.LineSlack) {
					continue
				}
				if similarity(c.seedMsg, msg) >= opts.SimilarityThreshold {
					joined = c
					break
				}
			}
			if joined == nil {
				c := &cluster{
					seedMsg:  msg,
					minStart: m.f.Location.StartLine,
					maxEnd:   m.f.Location.EndLine,
					members:  []member{m},
				}
				open = append(open, c)
				all = append(all, c)
				continue
			}
			joined.add(m)
		}
	}

	sort.SliceStable(all, func(a, b int) bool {
		return all[a].members[0].idx < all[b].members[0].idx
	})

	out := make([]Cluster, 0, len(all))
	for _, c := range all {
		out = append(out, c.finish())
	}
	return out
}

func (c *cluster) near(loc findings.Location, slack int) bool {
	return loc.StartLine <= c.maxEnd+slack && loc.EndLine >= c.minStart-slack
}

func (c *cluster) add(m member) {
	if m.f.Location.StartLine < c.minStart {
		c.minStart = m.f.Location.StartLine
	}
	if m.f.Location.EndLine > c.maxEnd {
		c.maxEnd = m.f.Location.EndLine
	}
	c.members = append(c.members, m)
}

// finish picks the representative (highest severity, ties broken by
// earliest reported) and assembles the exported view. Members are listed
// in input order.
func (c *cluster) finish() Cluster {
	sort.SliceStable(c.members, func(a, b int) bool {
		return c.members[a].idx < c.members[b].idx
	})

	rep := c.members[0]
	for _, m := range c.members[1:] {
		if m.f.Severity.Rank() > rep.f.Severity.Rank() {
			rep = m
		}
	}

	out := Cluster{
		RepresentativeID: rep.f.ID,
		Severity:         rep.f.Severity,
		FindingIDs:       make([]string, 0, len(c.members)),
	}
	seenTools := make(map[string]struct{}, len(c.members))
	for _, m := range c.members {
		out.FindingIDs = append(out.FindingIDs, m.f.ID)
		if _, ok := seenTools[m.f.Tool.Name]; !ok {
			seenTools[m.f.Tool.Name] = struct{}{}
			out.Tools = append(out.Tools, m.f.Tool.Name)
		}
	}
	return out
}

// Siblings maps each finding id in a multi-tool cluster to the other
// tools that reported the same underlying issue.
func Siblings(fs []findings.Finding, clusters []Cluster) map[string][]string {
	toolOf := make(map[string]string, len(fs))
	for i := range fs {
		toolOf[fs[i].ID] = fs[i].Tool.Name
	}

	out := make(map[string][]string)
	for _, c := range clusters {
		if len(c.Tools) < 2 {
			continue
		}
		for _, id := range c.FindingIDs {
			own := toolOf[id]
			sibs := make([]string, 0, len(c.Tools)-1)
			for _, tool := range c.Tools {
				if tool != own {
					sibs = append(sibs, tool)
				}
			}
			out[id] = sibs
		}
	}
	return out
}

// similarity is normalized Levenshtein over the two strings: 1 is
// identical, 0 shares nothing.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	return 1 - float64(dist)/float64(maxLen)
}

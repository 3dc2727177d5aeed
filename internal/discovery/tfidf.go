// Package discovery provides sparse TF-IDF search over the tool
// catalog. The index is deterministic and immutable once built;
// refreshing the catalog means building a new index.
package discovery

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// Entry is one indexable tool. Owner is the owning tenant of the
// tool's passport ("system" for builtins); it rides along so callers
// can drop hits the requesting tenant must not see.
type Entry struct {
	ServerID    string
	ServerName  string
	ToolName    string
	Description string
	Owner       string
}

// Match is one search hit. Owner never leaves the process.
type Match struct {
	ServerID string  `json:"server_id"`
	ToolName string  `json:"tool_name"`
	Score    float64 `json:"score"`
	Owner    string  `json:"-"`
}

type document struct {
	entry Entry
	tf    map[string]float64
	norm  float64
}

// Index is an inverted TF-IDF index over tool documents.
type Index struct {
	docs    []document
	df      map[string]int
	posting map[string][]int // term -> doc indexes
}

// tokenize lowercases, splits on non-alphanumeric runs, and drops
// tokens shorter than two characters.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// Build indexes the given entries. Each document is the concatenation
// of server name, tool name, and description.
func Build(entries []Entry) *Index {
	idx := &Index{
		df:      make(map[string]int),
		posting: make(map[string][]int),
	}

	for _, e := range entries {
		tokens := tokenize(e.ServerName + " " + e.ToolName + " " + e.Description)
		tf := make(map[string]float64, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		docIdx := len(idx.docs)
		for term := range tf {
			idx.df[term]++
			idx.posting[term] = append(idx.posting[term], docIdx)
		}
		idx.docs = append(idx.docs, document{entry: e, tf: tf})
	}

	// Per-document vector norms over tf-idf weights.
	n := float64(len(idx.docs))
	for i := range idx.docs {
		var sum float64
		for term, f := range idx.docs[i].tf {
			w := f * idf(n, idx.df[term])
			sum += w * w
		}
		idx.docs[i].norm = math.Sqrt(sum)
	}
	return idx
}

func idf(docCount float64, df int) float64 {
	return math.Log(1 + docCount/float64(df))
}

// Size reports the number of indexed documents.
func (idx *Index) Size() int { return len(idx.docs) }

// Search scores the query against the corpus by cosine similarity and
// returns the top k matches with positive score.
func (idx *Index) Search(query string, k int) []Match {
	if k <= 0 || len(idx.docs) == 0 {
		return nil
	}

	qTokens := tokenize(query)
	qtf := make(map[string]float64, len(qTokens))
	for _, tok := range qTokens {
		qtf[tok]++
	}
	if len(qtf) == 0 {
		return nil
	}

	n := float64(len(idx.docs))
	var qNorm float64
	qw := make(map[string]float64, len(qtf))
	for term, f := range qtf {
		df, ok := idx.df[term]
		if !ok {
			continue
		}
		w := f * idf(n, df)
		qw[term] = w
		qNorm += w * w
	}
	if len(qw) == 0 {
		return nil
	}
	qNorm = math.Sqrt(qNorm)

	scores := make(map[int]float64)
	for term, w := range qw {
		termIDF := idf(n, idx.df[term])
		for _, di := range idx.posting[term] {
			scores[di] += w * idx.docs[di].tf[term] * termIDF
		}
	}

	matches := make([]Match, 0, len(scores))
	for di, dot := range scores {
		d := idx.docs[di]
		if d.norm == 0 {
			continue
		}
		score := dot / (qNorm * d.norm)
		if score <= 0 {
			continue
		}
		matches = append(matches, Match{
			ServerID: d.entry.ServerID,
			ToolName: d.entry.ToolName,
			Score:    score,
			Owner:    d.entry.Owner,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ToolName < matches[j].ToolName
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// Package router classifies incoming questions into the pipeline that
// should serve them: SQL over structured data, document retrieval, or
// both. Classification is pure keyword matching over configurable lists,
// so routing decisions are cheap, deterministic, and auditable.
package router

import (
	"fmt"
	"sort"
	"strings"
)

// Route is the pipeline a question is sent to.
type Route string

const (
	// RouteData sends the question to SQL generation.
	RouteData Route = "DATA"
	// RouteDocuments sends the question to document retrieval.
	RouteDocuments Route = "DOCUMENTS"
	// RouteHybrid runs both pipelines and merges the results.
	RouteHybrid Route = "HYBRID"
)

// Category labels which keyword list a match came from.
type Category string

const (
	CategoryData     Category = "data"
	CategoryDocument Category = "document"
	CategoryHybrid   Category = "hybrid"
)

// Match records one keyword hit and where it occurred in the question.
type Match struct {
	Keyword  string   `json:"keyword"`
	Category Category `json:"category"`
	Position int      `json:"position"`
}

// Decision is the full classification result. Matches are ordered by
// first occurrence in the question so the explanation reads naturally.
type Decision struct {
	Route       Route   `json:"route"`
	Matches     []Match `json:"matches,omitempty"`
	Explanation string  `json:"explanation"`
}

// Keywords holds the three configurable lists. Entries are matched
// case-insensitively as substrings; multi-word phrases are allowed.
type Keywords struct {
	Data     []string
	Document []string
	Hybrid   []string
}

// DefaultKeywords covers common analytics and documentation phrasings.
// Deployments tune these through configuration.
func DefaultKeywords() Keywords {
	return Keywords{
		Data: []string{
			"how many", "count", "total", "average", "sum of",
			"minimum", "maximum", "revenue", "sales", "orders",
			"customers", "users", "per month", "per year", "trend",
			"top 10", "group by",
		},
		Document: []string{
			"explain", "describe", "what is", "what are", "why",
			"policy", "document", "report", "summary", "summarize",
			"according to", "guide", "manual", "procedure", "how do i",
		},
		Hybrid: []string{
			"and explain", "and describe", "and summarize",
			"compare with", "with context", "and why",
		},
	}
}

// Router classifies questions. It is immutable after construction and
// safe for concurrent use.
type Router struct {
	kw Keywords
}

// New builds a Router. Keyword lists are lowercased once up front; empty
// entries are dropped.
func New(kw Keywords) *Router {
	return &Router{kw: Keywords{
		Data:     foldList(kw.Data),
		Document: foldList(kw.Document),
		Hybrid:   foldList(kw.Hybrid),
	}}
}

func foldList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, k := range list {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

// Classify routes a question. The decision policy, in priority order:
//
//  1. any hybrid phrase matches            -> HYBRID
//  2. data and document keywords both hit  -> HYBRID
//  3. only data keywords hit               -> DATA
//  4. only document keywords hit           -> DOCUMENTS
//  5. nothing hits                         -> DOCUMENTS (safe default:
//     a wrong DATA route produces SQL nobody asked for)
func (r *Router) Classify(question string) Decision {
	folded := strings.ToLower(question)

	var matches []Match
	collect := func(list []string, cat Category) bool {
		found := false
		for _, kw := range list {
			if pos := strings.Index(folded, kw); pos >= 0 {
				matches = append(matches, Match{Keyword: kw, Category: cat, Position: pos})
				found = true
			}
		}
		return found
	}

	hybridHit := collect(r.kw.Hybrid, CategoryHybrid)
	dataHit := collect(r.kw.Data, CategoryData)
	docHit := collect(r.kw.Document, CategoryDocument)

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Position < matches[j].Position
	})

	var route Route
	var reason string
	switch {
	case hybridHit:
		route = RouteHybrid
		reason = "hybrid phrase matched"
	case dataHit && docHit:
		route = RouteHybrid
		reason = "both data and document keywords matched"
	case dataHit:
		route = RouteData
		reason = "data keywords matched"
	case docHit:
		route = RouteDocuments
		reason = "document keywords matched"
	default:
		route = RouteDocuments
		reason = "no keywords matched, defaulting to document retrieval"
	}

	return Decision{
		Route:       route,
		Matches:     matches,
		Explanation: explain(route, reason, matches),
	}
}

func explain(route Route, reason string, matches []Match) string {
	if len(matches) == 0 {
		return fmt.Sprintf("routed to %s: %s", route, reason)
	}
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = fmt.Sprintf("%q (%s)", m.Keyword, m.Category)
	}
	return fmt.Sprintf("routed to %s: %s: %s", route, reason, strings.Join(parts, ", "))
}

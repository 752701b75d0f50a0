package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Collection is a semantic index collection of embedded descriptions.
type Collection string

const (
	CollectionAccounts    Collection = "accounts"
	CollectionEntities    Collection = "entities"
	CollectionDepartments Collection = "departments"
)

// Collections is ordered by merge priority, highest first.
var Collections = []Collection{
	CollectionAccounts,
	CollectionEntities,
	CollectionDepartments,
}

// Priority returns 0 for the highest priority collection. Unknown
// collections sort last.
func (c Collection) Priority() int {
	for i, candidate := range Collections {
		if candidate == c {
			return i
		}
	}
	return len(Collections)
}

// SemanticHit references an account, entity or department found by
// nearest-neighbour search. Rank is the position within its own collection.
type SemanticHit struct {
	EntityID   string     `json:"entityId"`
	Label      string     `json:"label,omitempty"`
	Score      float64    `json:"score"`
	Collection Collection `json:"collection"`
	Rank       int        `json:"rank"`
}

const (
	TableActuals = "actuals"
	TableBudget  = "budget"
)

// Row is one financial fact.
type Row struct {
	Year       int     `json:"year"`
	Period     string  `json:"period"`
	Account    string  `json:"account"`
	Entity     string  `json:"entity"`
	Department string  `json:"department"`
	Amount     float64 `json:"amount"`
}

// Filter restricts a structured pull. Empty fields do not filter.
type Filter struct {
	Years       []int    `json:"years,omitempty"`
	Periods     []string `json:"periods,omitempty"`
	Accounts    []string `json:"accounts,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	Departments []string `json:"departments,omitempty"`
}

// String renders the filter canonically so equal predicates print equally.
func (f Filter) String() string {
	var parts []string
	if len(f.Years) > 0 {
		years := append([]int(nil), f.Years...)
		sort.Ints(years)
		vals := make([]string, len(years))
		for i, y := range years {
			vals[i] = strconv.Itoa(y)
		}
		parts = append(parts, "year in ("+strings.Join(vals, ",")+")")
	}
	add := func(name string, values []string) {
		if len(values) == 0 {
			return
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		parts = append(parts, fmt.Sprintf("%s in (%s)", name, strings.Join(sorted, ",")))
	}
	add("period", f.Periods)
	add("account", f.Accounts)
	add("entity", f.Entities)
	add("department", f.Departments)
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " and ")
}

// StructuredSlice is the result of one structured pull.
type StructuredSlice struct {
	Table       string `json:"table"`
	Filter      Filter `json:"filter"`
	Rows        []Row  `json:"rows"`
	RowCount    int    `json:"rowCount"`
	DataVersion string `json:"dataVersion"`
}

// Ref is the provenance reference for the slice.
func (s StructuredSlice) Ref() EvidenceRef {
	return EvidenceRef{Kind: EvidenceStructured, Source: s.Table, ID: s.Filter.String()}
}

// EvidenceBundle is handed read-only to a responder.
type EvidenceBundle struct {
	ID                  string            `json:"id"`
	Query               Query             `json:"query"`
	Intent              Intent            `json:"intent"`
	Hits                []SemanticHit     `json:"hits"`
	Slices              []StructuredSlice `json:"slices"`
	SemanticDegraded    bool              `json:"semanticDegraded"`
	DegradedCollections []Collection      `json:"degradedCollections,omitempty"`
	DataVersion         string            `json:"dataVersion"`
	Fingerprint         string            `json:"fingerprint"`
	AssembledAt         time.Time         `json:"assembledAt"`
}

// Rows concatenates the rows of every slice pulled from table.
func (b *EvidenceBundle) Rows(table string) []Row {
	var rows []Row
	for _, s := range b.Slices {
		if s.Table == table {
			rows = append(rows, s.Rows...)
		}
	}
	return rows
}

// SliceRefs returns references to every slice pulled from one of tables, or
// every slice when tables is empty.
func (b *EvidenceBundle) SliceRefs(tables ...string) []EvidenceRef {
	var refs []EvidenceRef
	for _, s := range b.Slices {
		if len(tables) == 0 || containsString(tables, s.Table) {
			refs = append(refs, s.Ref())
		}
	}
	return refs
}

// HitFor finds the best semantic hit naming id, if any.
func (b *EvidenceBundle) HitFor(id string) (SemanticHit, bool) {
	for _, h := range b.Hits {
		if strings.EqualFold(h.EntityID, id) {
			return h, true
		}
	}
	return SemanticHit{}, false
}

// Clone deep-copies the bundle so cached copies never alias caller memory.
func (b *EvidenceBundle) Clone() *EvidenceBundle {
	if b == nil {
		return nil
	}
	out := *b
	if b.Hits != nil {
		// an empty hit list stays distinct from a missing one
		out.Hits = make([]SemanticHit, len(b.Hits))
		copy(out.Hits, b.Hits)
	}
	out.DegradedCollections = append([]Collection(nil), b.DegradedCollections...)
	out.Slices = nil
	for _, s := range b.Slices {
		if s.Rows != nil {
			s.Rows = append(make([]Row, 0, len(s.Rows)), s.Rows...)
		}
		s.Filter = Filter{
			Years:       append([]int(nil), s.Filter.Years...),
			Periods:     append([]string(nil), s.Filter.Periods...),
			Accounts:    append([]string(nil), s.Filter.Accounts...),
			Entities:    append([]string(nil), s.Filter.Entities...),
			Departments: append([]string(nil), s.Filter.Departments...),
		}
		out.Slices = append(out.Slices, s)
	}
	return &out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

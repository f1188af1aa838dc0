package sheet

import (
	"strings"

	"github.com/schollz/closestmatch"
	"golang.org/x/text/cases"
)

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver maps candidate column names onto the headers a sheet actually
// has. Matching ignores case (Unicode folding) and surrounding whitespace;
// runs of inner whitespace count as one space.
type Resolver struct {
	headers []string
	folded  []string
	matcher *closestmatch.ClosestMatch
}

func NewResolver(headers []string) *Resolver {
	r := &Resolver{
		headers: headers,
		folded:  make([]string, len(headers)),
	}
	for i, h := range headers {
		r.folded[i] = fold(h)
	}
	return r
}

// Headers returns the headers the resolver searches, in sheet order.
func (r *Resolver) Headers() []string {
	return r.headers
}

// Resolve returns the first header, in sheet order, that matches any of the
// candidates.
func (r *Resolver) Resolve(candidates ...string) (string, bool) {
	i := r.Index(candidates...)
	if i < 0 {
		return "", false
	}
	return r.headers[i], true
}

// Index is Resolve returning the column position, or -1.
func (r *Resolver) Index(candidates ...string) int {
	want := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if f := fold(c); f != "" {
			want[f] = struct{}{}
		}
	}
	for i, h := range r.folded {
		if _, ok := want[h]; ok {
			return i
		}
	}
	return -1
}

// Suggest returns the header closest to the first candidate, for warning
// messages about columns that did not resolve. Empty when nothing is close.
func (r *Resolver) Suggest(candidates ...string) string {
	if len(candidates) == 0 || len(r.headers) == 0 {
		return ""
	}
	if r.matcher == nil {
		r.matcher = closestmatch.New(r.folded, []int{2, 3})
	}
	best := r.matcher.Closest(fold(candidates[0]))
	if best == "" {
		return ""
	}
	for i, f := range r.folded {
		if f == best {
			return r.headers[i]
		}
	}
	return ""
}

func fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// =============================================================================
// COLUMN MAP
// =============================================================================

// ColumnMap is the result of resolving every logical field against one sheet.
type ColumnMap struct {
	index   map[Field]int
	headers map[Field]string
	missing []Field
}

// Map resolves each field in aliases. Fields with no matching header are
// recorded as missing.
func (r *Resolver) Map(aliases Aliases) ColumnMap {
	m := ColumnMap{
		index:   make(map[Field]int, len(aliases)),
		headers: make(map[Field]string, len(aliases)),
	}
	for _, f := range aliases.Fields() {
		i := r.Index(aliases[f]...)
		if i < 0 {
			m.missing = append(m.missing, f)
			continue
		}
		m.index[f] = i
		m.headers[f] = r.headers[i]
	}
	return m
}

func (m ColumnMap) Has(f Field) bool {
	_, ok := m.index[f]
	return ok
}

// Header returns the actual header resolved for f.
func (m ColumnMap) Header(f Field) string {
	return m.headers[f]
}

// Value returns the cell for f in row, or nil when f did not resolve.
func (m ColumnMap) Value(row Row, f Field) any {
	i, ok := m.index[f]
	if !ok {
		return nil
	}
	return row.Cell(i)
}

// Missing lists the fields that did not resolve, in field order.
func (m ColumnMap) Missing() []Field {
	return m.missing
}

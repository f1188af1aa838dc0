package loan

import (
	"strings"

	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/normalize"
)

// MemberRow is the (member number, name) pair read from one sheet row.
type MemberRow struct {
	ID   generic.MemberID
	Name string
}

// DeduplicateMembers collapses rows to one member per member number. A
// repeated number keeps its first position but takes the last name seen.
// Placeholder numbers ("", "-", "nan") are left out; their loan records are
// kept by the caller.
func DeduplicateMembers(rows []MemberRow) []generic.Member {
	index := make(map[generic.MemberID]int, len(rows))
	members := make([]generic.Member, 0, len(rows))

	for _, row := range rows {
		id := generic.MemberID(strings.TrimSpace(string(row.ID)))
		if normalize.IsBlank(string(id)) {
			continue
		}
		if i, ok := index[id]; ok {
			members[i].Name = row.Name
			continue
		}
		index[id] = len(members)
		members = append(members, generic.Member{ID: id, Name: row.Name})
	}
	return members
}

package sheet

import (
	"fmt"
	"sort"
	"time"
)

// Field is a logical column the reconciler reads, independent of how a
// particular export spells its header.
type Field string

const (
	FieldMemberID       Field = "member_id"
	FieldMemberName     Field = "member_name"
	FieldPrincipal      Field = "principal"
	FieldLoanDate       Field = "loan_date"
	FieldCarriedBalance Field = "carried_balance"
	FieldPaymentMethod  Field = "payment_method"
)

// MonthField is the field for one calendar month's payment column.
func MonthField(m time.Month) Field {
	return Field(fmt.Sprintf("month_%02d", int(m)))
}

// Aliases lists, per field, the header spellings accepted for it.
type Aliases map[Field][]string

// DefaultAliases covers the spellings seen in cooperative exports. The
// carried-balance header is year-specific in practice ("sebelum th 2026");
// profiles add the current year's spelling.
func DefaultAliases() Aliases {
	a := Aliases{
		FieldMemberID:       {"No. Anggota", "No Anggota", "No.Anggota", "Nomor Anggota", "No. Agt", "ID Anggota", "Member No", "Member ID"},
		FieldMemberName:     {"Nama", "Nama Anggota", "Name", "Member Name"},
		FieldPrincipal:      {"Plafon", "Plafond", "Pinjaman", "Jumlah Pinjaman", "Principal"},
		FieldLoanDate:       {"Tanggal Pinjam", "Tgl Pinjam", "Tanggal Pinjaman", "Tgl. Pinjam", "Tanggal", "Tgl", "Loan Date"},
		FieldCarriedBalance: {"sebelum th 2026", "Sebelum Tahun 2026", "Saldo Awal", "Sisa Awal", "Sisa Pinjaman Awal", "Carried Balance", "Opening Balance"},
		FieldPaymentMethod:  {"Cara Bayar", "Metode Bayar", "Metode Pembayaran", "Pembayaran", "Ket. Bayar", "Payment Method"},
	}
	for m, names := range monthAliases {
		a[MonthField(time.Month(m+1))] = names
	}
	return a
}

var monthAliases = [12][]string{
	{"jan", "januari", "january"},
	{"feb", "peb", "februari", "february"},
	{"mar", "maret", "march"},
	{"apr", "april"},
	{"mei", "may"},
	{"jun", "juni", "june"},
	{"jul", "juli", "july"},
	{"ags", "agu", "agt", "agustus", "aug", "august"},
	{"sep", "sept", "september"},
	{"okt", "oct", "oktober", "october"},
	{"nov", "nop", "nopember", "november"},
	{"des", "dec", "desember", "december"},
}

// With returns a copy where the extra spellings are tried before the
// existing ones.
func (a Aliases) With(extra map[Field][]string) Aliases {
	out := make(Aliases, len(a))
	for f, names := range a {
		out[f] = append([]string(nil), names...)
	}
	for f, names := range extra {
		out[f] = append(append([]string(nil), names...), out[f]...)
	}
	return out
}

// Fields returns the fields in a stable order: identity fields first, then
// months January to December.
func (a Aliases) Fields() []Field {
	out := make([]Field, 0, len(a))
	for f := range a {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		return fieldRank(out[i]) < fieldRank(out[j]) ||
			fieldRank(out[i]) == fieldRank(out[j]) && out[i] < out[j]
	})
	return out
}

var identityOrder = map[Field]int{
	FieldMemberID:       0,
	FieldMemberName:     1,
	FieldPrincipal:      2,
	FieldLoanDate:       3,
	FieldCarriedBalance: 4,
	FieldPaymentMethod:  5,
}

func fieldRank(f Field) int {
	if r, ok := identityOrder[f]; ok {
		return r
	}
	// month_01..month_12 sort lexically after the identity fields
	return len(identityOrder)
}

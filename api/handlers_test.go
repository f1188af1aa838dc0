/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Import preview, confirmation and publish over multipart upload
- Member search, detail and statement
- Loan threshold filter and payment recording
- Billing worklists as JSON and xlsx
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/koperasi/loan-ledger/factory"
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/generic/store"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*store.Memory, http.Handler) {
	t.Helper()
	profile, err := factory.NewProfileFactory().FromJSON(factory.ProfileJSON{})
	require.NoError(t, err)
	profile.Loan.Clock = generic.FixedClock(testNow)

	mem := store.NewMemory()
	h := NewHandler(mem, profile, zerolog.Nop())
	return mem, NewRouter(h, RouterOptions{Log: zerolog.Nop()})
}

// seed stores Siti (active, payroll) and Budi (paid, self-pay).
func seed(t *testing.T, mem *store.Memory) []generic.LoanID {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.InsertMembers(ctx, []generic.Member{
		{ID: "A-001", Name: "Siti Aminah"},
		{ID: "A-002", Name: "Budi Santoso"},
	}))
	date := generic.NewDate(2025, time.March, 1)
	ids, err := mem.InsertLoans(ctx, []generic.LoanRecord{
		{
			MemberID: "A-001", MemberName: "Siti Aminah", LoanDate: &date,
			Principal:      generic.NewAmountFromInt(1_000_000),
			OpeningBalance: generic.NewAmountFromInt(750_000),
			PeriodPayments: generic.NewAmountFromInt(300_000),
			PeriodsPaid:    1,
			Outstanding:    generic.NewAmountFromInt(450_000),
			Status:         generic.StatusActive,
			Channel:        generic.ChannelOffice,
		},
		{
			MemberID: "A-002", MemberName: "Budi Santoso",
			Principal:      generic.NewAmountFromInt(500_000),
			OpeningBalance: generic.NewAmountFromInt(500_000),
			PeriodPayments: generic.NewAmountFromInt(500_000),
			PeriodsPaid:    5,
			Outstanding:    generic.NewAmountFromInt(0),
			Status:         generic.StatusPaid,
			Channel:        generic.ChannelSelfPay,
		},
	})
	require.NoError(t, err)
	return ids
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, url string) *httptest.ResponseRecorder {
	return do(t, h, httptest.NewRequest(http.MethodGet, url, nil))
}

func postJSON(t *testing.T, h http.Handler, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return do(t, h, req)
}

func upload(t *testing.T, h http.Handler, url, fileName string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t, h, req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func rekapWorkbook(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, sheet.WriteXLSX(&buf, sheet.Table{
		Name:    "Rekap",
		Headers: []string{"No. Anggota", "Nama", "Plafon", "Tanggal Pinjam", "sebelum th 2026", "jan", "feb"},
		Rows: [][]any{
			{"A-001", "Siti Aminah", 1_000_000, "2025-03-01", 750_000, 300_000, nil},
			{"A-002", "Budi Santoso", 500_000, "2026-01-10", nil, 100_000, 100_000},
			{"A-003", "Ani", 2_000_000, "2024-06-15", 1_200_000, 200_000, 200_000},
			{"A-001", "Siti Aminah", 300_000, "2026-02-01", nil, nil, nil},
			{"", "", nil, nil, nil, 100, nil},
		},
	}))
	return buf.Bytes()
}

// =============================================================================
// IMPORTS
// =============================================================================

func TestImport_PreviewThenPublish(t *testing.T) {
	mem, h := newTestServer(t)
	workbook := rekapWorkbook(t)

	// GIVEN: An uploaded workbook previewed first
	rec := upload(t, h, "/api/imports/preview", "rekap.xlsx", workbook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[ImportReportDTO](t, rec)

	// THEN: The preview reports columns, skips and three sample rows
	assert.Equal(t, string(generic.ImportPreviewed), preview.Run.Status)
	assert.Equal(t, 4, preview.Run.Reconciled)
	assert.Equal(t, 1, preview.Run.Skipped)
	assert.Equal(t, 3, preview.Run.Members)
	assert.Equal(t, "Plafon", preview.Columns[sheet.FieldPrincipal])
	assert.Len(t, preview.Preview, 3)
	assert.Len(t, preview.Sample, 3)
	assert.Nil(t, preview.Publish)
	loans, _ := mem.ListLoans(context.Background())
	assert.Empty(t, loans, "preview writes nothing")

	// WHEN: Publishing without confirmation
	rec = upload(t, h, "/api/imports", "rekap.xlsx", workbook)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// WHEN: Publishing with confirmation
	rec = upload(t, h, "/api/imports?confirm=true", "rekap.xlsx", workbook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	published := decode[ImportReportDTO](t, rec)

	// THEN: The snapshot holds every reconciled row and both runs are logged
	assert.Equal(t, string(generic.ImportPublished), published.Run.Status)
	require.NotNil(t, published.Publish)
	assert.Equal(t, 4, published.Publish.LoansWritten)
	assert.Equal(t, 3, published.Publish.MembersWritten)

	loans, _ = mem.ListLoans(context.Background())
	assert.Len(t, loans, 4)

	runs := decode[[]ImportRunDTO](t, get(t, h, "/api/imports"))
	require.Len(t, runs, 2)
	assert.Equal(t, string(generic.ImportPublished), runs[0].Status)
	assert.Equal(t, string(generic.ImportPreviewed), runs[1].Status)
}

func TestImport_RuleOverride(t *testing.T) {
	_, h := newTestServer(t)
	workbook := rekapWorkbook(t)

	rec := upload(t, h, "/api/imports/preview?rule=year_gated&cutoff_year=2026", "rekap.xlsx", workbook)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "year_gated(2026)", decode[ImportReportDTO](t, rec).Run.Rule)

	rec = upload(t, h, "/api/imports/preview?rule=year_gated", "rekap.xlsx", workbook)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "year_gated needs a cutoff")

	rec = upload(t, h, "/api/imports/preview?rule=fifo", "rekap.xlsx", workbook)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_CutoffYearAloneSelectsYearGated(t *testing.T) {
	_, h := newTestServer(t)
	workbook := rekapWorkbook(t)

	// GIVEN: A value_present profile and only ?cutoff_year on the request
	rec := upload(t, h, "/api/imports/preview?cutoff_year=2026", "rekap.xlsx", workbook)

	// THEN: The run uses year_gated with that cutoff, not the profile rule
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "year_gated(2026)", decode[ImportReportDTO](t, rec).Run.Rule)

	rec = upload(t, h, "/api/imports/preview?rule=value_present&cutoff_year=2026", "rekap.xlsx", workbook)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "value_present takes no cutoff")

	rec = upload(t, h, "/api/imports/preview?cutoff_year=dua-ribu", "rekap.xlsx", workbook)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImport_BadUploads(t *testing.T) {
	_, h := newTestServer(t)

	rec := upload(t, h, "/api/imports/preview", "rekap.pdf", []byte("%PDF-1.4"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/imports/preview", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(t, h, req).Code)

	rec = upload(t, h, "/api/imports?confirm=true", "notes.csv", []byte("Keterangan\ncatatan\n"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// MEMBERS
// =============================================================================

func TestMembers_ListSearchAndDetail(t *testing.T) {
	mem, h := newTestServer(t)
	seed(t, mem)

	all := decode[[]MemberDTO](t, get(t, h, "/api/members"))
	require.Len(t, all, 2)
	assert.Equal(t, "Budi Santoso", all[0].Name, "ordered by name")
	assert.Equal(t, 0, all[0].ActiveLoans)

	found := decode[[]MemberDTO](t, get(t, h, "/api/members?q=SITI"))
	require.Len(t, found, 1)
	assert.Equal(t, "A-001", found[0].ID)
	assert.Equal(t, "450000", found[0].Outstanding.String())

	byNumber := decode[[]MemberDTO](t, get(t, h, "/api/members?q=a-002"))
	require.Len(t, byNumber, 1)
	assert.Equal(t, "Budi Santoso", byNumber[0].Name)

	detail := decode[MemberDetailDTO](t, get(t, h, "/api/members/A-001"))
	assert.Equal(t, 1, detail.ActiveLoans)
	require.Len(t, detail.Loans, 1)
	require.NotNil(t, detail.Loans[0].LoanDate)
	assert.Equal(t, "2025-03-01", *detail.Loans[0].LoanDate)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/members/Z-999").Code)
}

func TestMembers_Save(t *testing.T) {
	mem, h := newTestServer(t)

	rec := postJSON(t, h, "/api/members", SaveMemberRequest{ID: " A-010 ", Name: "Dewi"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	m, err := mem.GetMember(context.Background(), "A-010")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Dewi", m.Name)

	rec = postJSON(t, h, "/api/members", SaveMemberRequest{ID: "A-011"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name is required")
}

func TestMembers_Statement(t *testing.T) {
	mem, h := newTestServer(t)
	seed(t, mem)

	rec := get(t, h, "/api/members/A-001/statement?format=text")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Siti Aminah")
	assert.Contains(t, body, "Rp 1.000.000")
	assert.Contains(t, body, "SISA PINJAMAN SAAT INI")
	assert.Contains(t, body, "Rp 450.000")

	rec = get(t, h, "/api/members/A-001/statement")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

// =============================================================================
// LOANS AND PAYMENTS
// =============================================================================

func TestLoans_ThresholdFilter(t *testing.T) {
	mem, h := newTestServer(t)
	seed(t, mem)

	loans := decode[[]LoanDTO](t, get(t, h, "/api/loans?min_outstanding=100000"))
	require.Len(t, loans, 1)
	assert.Equal(t, "Siti Aminah", loans[0].MemberName)

	assert.Len(t, decode[[]LoanDTO](t, get(t, h, "/api/loans?min_outstanding=450000")), 0, "threshold is exclusive")
	assert.Len(t, decode[[]LoanDTO](t, get(t, h, "/api/loans")), 2)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/loans?min_outstanding=banyak").Code)
}

func TestLoans_RecordPayment(t *testing.T) {
	mem, h := newTestServer(t)
	ids := seed(t, mem)
	url := "/api/loans/" + strconv.FormatInt(int64(ids[0]), 10) + "/payments"

	// WHEN: Paying 200.000 against the 450.000 outstanding
	rec := postJSON(t, h, url, map[string]any{"id": "pay-1", "amount": 200000, "paid_at": "2026-10-15"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// THEN: The loan is decremented and the payment is in the history
	resp := decode[RecordPaymentResponse](t, rec)
	assert.Equal(t, "250000", resp.Loan.Outstanding.String())
	assert.Equal(t, 2, resp.Loan.PeriodsPaid)
	assert.Equal(t, string(generic.StatusActive), resp.Loan.Status)

	history := decode[[]PaymentDTO](t, get(t, h, url))
	require.Len(t, history, 1)
	assert.Equal(t, "2026-10-15", history[0].PaidAt)
	assert.Equal(t, 1, history[0].Sequence)

	// Retrying the same payment is rejected
	rec = postJSON(t, h, url, map[string]any{"id": "pay-1", "amount": 200000})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = postJSON(t, h, url, map[string]any{"amount": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, url, map[string]any{"amount": 1000, "paid_at": "15/10/2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h, "/api/loans/99999/payments", map[string]any{"amount": 1000})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/loans/abc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/loans/99999").Code)
}

// =============================================================================
// BILLING
// =============================================================================

func TestBilling_JSONAndXLSX(t *testing.T) {
	mem, h := newTestServer(t)
	seed(t, mem)

	rec := get(t, h, "/api/billing")
	require.Equal(t, http.StatusOK, rec.Code)
	billing := decode[BillingDTO](t, rec)

	// Siti: 1.000.000/10 + 1% = 110.000 installment + 50.000 savings
	require.Len(t, billing.Office.Lines, 1)
	assert.Equal(t, "A-001", billing.Office.Lines[0].MemberID)
	assert.Equal(t, "110000", billing.Office.Lines[0].Installment.String())
	assert.Equal(t, "160000", billing.Office.Total.String())

	// Budi is paid off but still owes savings
	require.Len(t, billing.SelfPay.Lines, 1)
	assert.Equal(t, "0", billing.SelfPay.Lines[0].Installment.String())
	assert.Equal(t, "50000", billing.SelfPay.Total.String())

	rec = get(t, h, "/api/billing?format=xlsx")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "tagihan-2026-10.xlsx")
	s, err := sheet.Load(bytes.NewReader(rec.Body.Bytes()), "tagihan.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "Potong Gaji", s.Name)
	assert.Len(t, s.Rows, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/billing?format=pdf").Code)
}

func TestHealthz(t *testing.T) {
	_, h := newTestServer(t)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
}

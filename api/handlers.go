/*
handlers.go - HTTP API handlers for the loan ledger

PURPOSE:
  Exposes the reconciled snapshot, the running payment ledger, spreadsheet
  imports and billing via REST. Handles HTTP request/response and JSON
  serialization, and delegates to the loan and generic packages.

ENDPOINTS:
  Members:
    GET    /api/members?q=                  List, or search by name / member number
    POST   /api/members                     Add or rename a member
    GET    /api/members/{id}                Member with loans
    GET    /api/members/{id}/statement      Statement (JSON, or ?format=text)

  Loans:
    GET    /api/loans?min_outstanding=      List, or filter by outstanding balance
    GET    /api/loans/{id}                  One loan
    GET    /api/loans/{id}/payments         Payment history
    POST   /api/loans/{id}/payments         Record a payment (running ledger)

  Imports:
    POST   /api/imports/preview             Reconcile an upload, write nothing
    POST   /api/imports?confirm=true        Reconcile and replace the snapshot
    GET    /api/imports                     Import audit log

  Billing:
    GET    /api/billing?format=json|xlsx    Monthly worklists

IMPORT OVERRIDES:
  Both import endpoints accept ?rule=value_present|year_gated and
  ?cutoff_year=YYYY to override the configured opening rule for one run.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, unconfirmed publish
  - 404: Resource not found
  - 409: Duplicate payment
  - 422: Upload with no reconcilable row
  - 500: Internal errors, including a partially replaced snapshot

SECURITY NOTE:
  No authentication or authorization. Run behind the cooperative's own
  access control.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/koperasi/loan-ledger/factory"
	"github.com/koperasi/loan-ledger/generic"
	"github.com/koperasi/loan-ledger/loan"
	"github.com/koperasi/loan-ledger/logger"
	"github.com/koperasi/loan-ledger/sheet"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

const (
	defaultPreviewRows    = 3
	defaultMaxUploadBytes = 20 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   generic.Store
	Profile *factory.Profile
	Ledger  *generic.PaymentLedger
	Billing *loan.Billing

	PreviewRows    int
	MaxUploadBytes int64

	log      zerolog.Logger
	clock    generic.Clock
	validate *validator.Validate
}

// NewHandler creates a handler over store using the given import profile.
func NewHandler(store generic.Store, profile *factory.Profile, log zerolog.Logger) *Handler {
	clock := profile.Loan.Clock
	if clock == nil {
		clock = generic.SystemClock
	}
	ledger := generic.NewPaymentLedger(store, profile.Loan.PaidTolerance)
	ledger.Clock = clock

	return &Handler{
		Store:          store,
		Profile:        profile,
		Ledger:         ledger,
		Billing:        loan.NewBilling(profile.Billing),
		PreviewRows:    defaultPreviewRows,
		MaxUploadBytes: defaultMaxUploadBytes,
		log:            log,
		clock:          clock,
		validate:       validator.New(),
	}
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// ListMembers returns every member, or with ?q= the members whose name or
// member number contains q. Loans without a member number match by name
// and are returned with an empty id.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	if q != "" {
		loans, err := h.Store.SearchLoans(ctx, q)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to search members", err)
			return
		}
		writeJSON(w, http.StatusOK, summarizeMembers(nil, loans))
		return
	}

	members, err := h.Store.ListMembers(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}
	loans, err := h.Store.ListLoans(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, summarizeMembers(members, loans))
}

// SaveMember adds a member or renames an existing one.
func (h *Handler) SaveMember(w http.ResponseWriter, r *http.Request) {
	var req SaveMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid member", err)
		return
	}

	m := generic.Member{ID: generic.MemberID(req.ID), Name: req.Name, UpdatedAt: h.clock()}
	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save member", err)
		return
	}
	log := logger.FromContext(r.Context())
	log.Info().Str("member", req.ID).Msg("member saved")
	writeJSON(w, http.StatusCreated, MemberDTO{ID: req.ID, Name: req.Name, Outstanding: decimal.Zero})
}

// GetMember returns a member with all of their loans.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	member, loans, ok := h.loadMember(w, r)
	if !ok {
		return
	}
	summary := summarizeMembers([]generic.Member{*member}, loans)[0]
	writeJSON(w, http.StatusOK, MemberDetailDTO{MemberDTO: summary, Loans: toLoanDTOs(loans)})
}

// GetStatement renders the member statement.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	member, loans, ok := h.loadMember(w, r)
	if !ok {
		return
	}
	st := loan.BuildStatement(*member, loans, h.clock())

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(st.Text()))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) loadMember(w http.ResponseWriter, r *http.Request) (*generic.Member, []generic.LoanRecord, bool) {
	id := generic.MemberID(chi.URLParam(r, "id"))
	member, err := h.Store.GetMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get member", err)
		return nil, nil, false
	}
	if member == nil {
		writeError(w, http.StatusNotFound, "Member not found", generic.ErrMemberNotFound)
		return nil, nil, false
	}
	loans, err := h.Store.LoansByMember(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return nil, nil, false
	}
	return member, loans, true
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns every loan, or with ?min_outstanding= only loans whose
// outstanding balance is strictly greater, largest first.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := strings.TrimSpace(r.URL.Query().Get("min_outstanding"))

	var (
		loans []generic.LoanRecord
		err   error
	)
	if raw == "" {
		loans, err = h.Store.ListLoans(ctx)
	} else {
		threshold, perr := decimal.NewFromString(raw)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid min_outstanding", perr)
			return
		}
		loans, err = h.Store.LoansAbove(ctx, threshold)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTOs(loans))
}

func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toLoanDTO(*rec))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.loadLoan(w, r)
	if !ok {
		return
	}
	payments, err := h.Ledger.Payments(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(payments))
}

// RecordPayment appends one payment and returns the updated loan.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid loan id", err)
		return
	}

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	}

	p := generic.PaymentTransaction{
		ID:       generic.PaymentID(strings.TrimSpace(req.ID)),
		LoanID:   generic.LoanID(id),
		Sequence: req.Sequence,
		Amount:   generic.NewAmountFromDecimal(req.Amount),
		Note:     strings.TrimSpace(req.Note),
	}
	if req.PaidAt != "" {
		// already checked by the datetime validator
		p.PaidAt, _ = time.Parse(dateLayout, req.PaidAt)
	}

	updated, err := h.Ledger.RecordPayment(r.Context(), p)
	switch {
	case errors.Is(err, generic.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, "Loan not found", err)
		return
	case errors.Is(err, generic.ErrDuplicatePayment):
		writeError(w, http.StatusConflict, "Payment already recorded", err)
		return
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid payment", err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Int64("loan", id).
		Str("amount", p.Amount.String()).
		Str("status", string(updated.Status)).
		Msg("payment recorded")
	writeJSON(w, http.StatusCreated, RecordPaymentResponse{Loan: toLoanDTO(updated)})
}

func (h *Handler) loadLoan(w http.ResponseWriter, r *http.Request) (*generic.LoanRecord, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid loan id", err)
		return nil, false
	}
	rec, err := h.Store.GetLoan(r.Context(), generic.LoanID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get loan", err)
		return nil, false
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Loan not found", generic.ErrLoanNotFound)
		return nil, false
	}
	return rec, true
}

// =============================================================================
// IMPORT HANDLERS
// =============================================================================

// PreviewImport reconciles the uploaded sheet and reports what a publish
// would write. Only the audit log is written.
func (h *Handler) PreviewImport(w http.ResponseWriter, r *http.Request) {
	s, fileName, im, ok := h.prepareImport(w, r)
	if !ok {
		return
	}

	res, err := im.Preview(r.Context(), s, fileName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to preview import", err)
		return
	}
	writeJSON(w, http.StatusOK, toImportReportDTO(res, s.Preview(h.PreviewRows), h.PreviewRows))
}

// Import reconciles the uploaded sheet and replaces the snapshot with it.
// Requires ?confirm=true.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if !confirmed {
		writeError(w, http.StatusBadRequest, "Publishing replaces every loan; repeat with confirm=true", generic.ErrPublishNotConfirmed)
		return
	}

	s, fileName, im, ok := h.prepareImport(w, r)
	if !ok {
		return
	}

	res, err := im.Import(r.Context(), s, fileName, true)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, toImportReportDTO(res, nil, 0))
	case errors.Is(err, loan.ErrNothingToImport):
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			ErrorResponse
			Report ImportReportDTO `json:"report"`
		}{ErrorResponse{Error: "No row could be reconciled", Details: err.Error()}, toImportReportDTO(res, nil, 0)})
	case res != nil:
		msg := "Import failed, previous snapshot kept"
		if generic.IsPartial(err) {
			msg = "Snapshot partially replaced, re-run the import"
		}
		writeJSON(w, http.StatusInternalServerError, struct {
			ErrorResponse
			Report ImportReportDTO `json:"report"`
		}{ErrorResponse{Error: msg, Details: err.Error()}, toImportReportDTO(res, nil, 0)})
	default:
		writeError(w, http.StatusInternalServerError, "Import failed", err)
	}
}

func (h *Handler) ListImports(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListImportRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list imports", err)
		return
	}
	dtos := make([]ImportRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toImportRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// prepareImport reads the "file" form field and builds an importer with
// any per-request rule override.
func (h *Handler) prepareImport(w http.ResponseWriter, r *http.Request) (*sheet.Sheet, string, *loan.Importer, bool) {
	cfg, err := h.importConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule", err)
		return nil, "", nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload", err)
		return nil, "", nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing file field", err)
		return nil, "", nil, false
	}
	defer file.Close()

	s, err := sheet.Load(file, header.Filename)
	if err != nil {
		status := http.StatusInternalServerError
		if generic.IsClientError(err) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "Failed to read spreadsheet", err)
		return nil, "", nil, false
	}

	im := loan.NewImporter(h.Store, cfg, logger.FromContext(r.Context()))
	return s, header.Filename, im, true
}

// importConfig applies ?rule= and ?cutoff_year= on top of the profile.
// The override rules are shared with cmd/import (loan.OverrideRule).
func (h *Handler) importConfig(r *http.Request) (loan.Config, error) {
	cfg := h.Profile.Loan
	q := r.URL.Query()

	year := 0
	if raw := strings.TrimSpace(q.Get("cutoff_year")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("%w: cutoff_year %q", generic.ErrInvalidRule, raw)
		}
		year = n
	}

	rule, err := loan.OverrideRule(cfg.Rule, q.Get("rule"), year)
	if err != nil {
		return cfg, err
	}
	cfg.Rule = rule
	return cfg, nil
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GetBilling computes the monthly worklists from the current snapshot.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	lists, err := computeWorklists(r, h.Store, h.Billing)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute billing", err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, BillingDTO{
			Office:  toWorklistDTO(lists.Office),
			SelfPay: toWorklistDTO(lists.SelfPay),
		})
	case "xlsx":
		name := fmt.Sprintf("tagihan-%s.xlsx", h.clock().Format("2006-01"))
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		if err := sheet.WriteXLSX(w, lists.Tables()...); err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("billing export failed")
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be json or xlsx", nil)
	}
}

func computeWorklists(r *http.Request, store generic.SnapshotReader, billing *loan.Billing) (loan.Worklists, error) {
	members, err := store.ListMembers(r.Context())
	if err != nil {
		return loan.Worklists{}, err
	}
	loans, err := store.ListLoans(r.Context())
	if err != nil {
		return loan.Worklists{}, err
	}
	return billing.Worklists(members, loans), nil
}

// =============================================================================
// HELPERS
// =============================================================================

// summarizeMembers builds one MemberDTO per member, in the order given,
// followed by any loan holder not in members (search results, orphans).
func summarizeMembers(members []generic.Member, loans []generic.LoanRecord) []MemberDTO {
	out := make([]MemberDTO, 0, len(members))
	index := make(map[string]int, len(members))
	key := func(id generic.MemberID, name string) string {
		if id == "" {
			return "name:" + name
		}
		return string(id)
	}

	for _, m := range members {
		index[key(m.ID, "")] = len(out)
		out = append(out, MemberDTO{ID: string(m.ID), Name: m.Name, Outstanding: decimal.Zero})
	}
	for _, l := range loans {
		k := key(l.MemberID, l.MemberName)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, MemberDTO{ID: string(l.MemberID), Name: l.MemberName, Outstanding: decimal.Zero})
		}
		if !l.IsPaid() {
			out[i].ActiveLoans++
		}
		out[i].Outstanding = out[i].Outstanding.Add(l.Outstanding.Value)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

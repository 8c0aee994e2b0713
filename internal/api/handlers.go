// Package api exposes the compliance engine over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"example.com/cpd/internal/auth"
	"example.com/cpd/internal/domain"
	"example.com/cpd/internal/logger"
	"example.com/cpd/internal/persistence"
)

const maxBodyBytes = 1 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service  *domain.Service
	validate *validator.Validate
	log      *logger.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Handler{service: service, validate: v, log: log.With("component", "api")}
}

// RegisterRoutes wires endpoints to the mux. Scope checks assume the auth
// middleware wraps the mux; /v1/verify and /healthz are expected to be skipped by it.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	read := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeRead, fn) }
	write := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeWrite, fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return auth.RequireScope(auth.ScopeAdmin, fn) }

	mux.Handle("POST /v1/activities", admin(h.createActivity))
	mux.Handle("GET /v1/activities/{id}", read(h.getActivity))
	mux.Handle("PUT /v1/activities/{id}", admin(h.updateActivity))
	mux.Handle("POST /v1/activities/{id}/publish", admin(h.publishActivity))
	mux.Handle("POST /v1/activities/{id}/retire", admin(h.retireActivity))
	mux.Handle("POST /v1/activities/{id}/mappings", admin(h.addMapping))
	mux.Handle("GET /v1/activities/{id}/mappings", read(h.listMappings))
	mux.Handle("GET /v1/activities/{id}/credit", read(h.resolveCredit))
	mux.Handle("POST /v1/mappings/{id}/deactivate", admin(h.deactivateMapping))

	mux.Handle("POST /v1/instances/{id}/rules", admin(h.attachRule))
	mux.Handle("POST /v1/instances/{id}/evidence", write(h.addEvidence))
	mux.Handle("GET /v1/instances/{id}/completion", read(h.evaluateCompletion))

	mux.Handle("POST /v1/assessments", admin(h.createAssessment))
	mux.Handle("GET /v1/assessments/{id}", read(h.getAssessment))
	mux.Handle("POST /v1/assessments/{id}/attempts", write(h.submitAttempt))
	mux.Handle("GET /v1/assessments/{id}/attempts/status", read(h.attemptStatus))
	mux.Handle("POST /v1/attempts/{id}/issue", write(h.issueForAttempt))

	mux.Handle("POST /v1/records", write(h.logCreditRecord))
	mux.Handle("GET /v1/records", read(h.listCreditRecords))
	mux.Handle("GET /v1/records/{id}", read(h.getCreditRecord))
	mux.Handle("PUT /v1/records/{id}/allocations", write(h.setAllocations))

	mux.Handle("POST /v1/credentials", write(h.addCredential))
	mux.Handle("GET /v1/credentials", read(h.listCredentials))
	mux.Handle("GET /v1/credentials/progress", read(h.credentialProgress))

	mux.Handle("GET /v1/certificates", read(h.listCertificates))
	mux.Handle("POST /v1/certificates/{id}/revoke", admin(h.revokeCertificate))

	mux.HandleFunc("GET /v1/verify/{code}", h.verifyCertificate)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// actor derives the caller from the bearer claims. Admins may act for another
// learner with ?learner_id=.
func actor(r *http.Request) domain.Actor {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		return domain.Actor{}
	}
	a := domain.Actor{LearnerID: claims.Subject, Admin: claims.IsAdmin()}
	if a.Admin {
		if other := strings.TrimSpace(r.URL.Query().Get("learner_id")); other != "" {
			a.LearnerID = other
		}
	}
	return a
}

// decode reads and validates a JSON body, writing the error response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidation(w, err)
		return false
	}
	return true
}

func (h *Handler) createActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	activity, err := h.service.CreateActivity(r.Context(), req.toInput())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := h.service.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if !h.decode(w, r, &req) {
		return
	}
	activity, err := h.service.UpdateActivity(r.Context(), r.PathValue("id"), req.toInput(), req.ExpectedVersion)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) publishActivity(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.FromContext(r.Context())
	approver := ""
	if claims != nil {
		approver = claims.Subject
	}
	activity, err := h.service.PublishActivity(r.Context(), r.PathValue("id"), approver)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) retireActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := h.service.RetireActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) addMapping(w http.ResponseWriter, r *http.Request) {
	var req MappingRequest
	if !h.decode(w, r, &req) {
		return
	}
	mapping, err := h.service.AddCreditMapping(r.Context(), r.PathValue("id"), req.toMapping())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMappingView(*mapping))
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := h.service.ListMappings(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toMappingViews(mappings)})
}

func (h *Handler) resolveCredit(w http.ResponseWriter, r *http.Request) {
	where := domain.Jurisdiction{
		Country: r.URL.Query().Get("country"),
		State:   r.URL.Query().Get("state"),
	}
	mappings, err := h.service.ResolveCredit(r.Context(), r.PathValue("id"), where)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activity_id": r.PathValue("id"),
		"mappings":    toMappingViews(mappings),
	})
}

func (h *Handler) deactivateMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := h.service.DeactivateMapping(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMappingView(*mapping))
}

func (h *Handler) attachRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if !h.decode(w, r, &req) {
		return
	}
	rule, err := h.service.AttachRule(r.Context(), r.PathValue("id"), domain.RuleType(req.Type), req.Config)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, RuleView{
		ID:         rule.ID,
		InstanceID: rule.InstanceID,
		Type:       string(rule.Config.RuleType()),
		Config:     rule.Config,
		CreatedAt:  rule.CreatedAt,
	})
}

func (h *Handler) addEvidence(w http.ResponseWriter, r *http.Request) {
	var req EvidenceRequest
	if !h.decode(w, r, &req) {
		return
	}
	file, err := h.service.AddEvidence(r.Context(), actor(r), r.PathValue("id"), req.FileName)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, EvidenceView{ID: file.ID, InstanceID: file.InstanceID, FileName: file.FileName, UploadedAt: file.UploadedAt})
}

func (h *Handler) evaluateCompletion(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EvaluateCompletion(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCompletionView(result))
}

func (h *Handler) createAssessment(w http.ResponseWriter, r *http.Request) {
	var req AssessmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	assessment, err := h.service.CreateAssessment(r.Context(), req.toAssessment())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssessmentView(*assessment))
}

func (h *Handler) getAssessment(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.service.GetAssessment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPublicAssessmentView(*assessment))
}

func (h *Handler) submitAttempt(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	in := domain.SubmitInput{
		LearnerID:    actor(r).LearnerID,
		AssessmentID: r.PathValue("id"),
		Answers:      req.Answers,
	}
	if req.StartedAt != nil {
		in.StartedAt = *req.StartedAt
	}
	res, err := h.service.SubmitAttempt(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmitResponse(*res))
}

func (h *Handler) attemptStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.AttemptStatus(r.Context(), actor(r).LearnerID, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptStatusView(*status))
}

func (h *Handler) issueForAttempt(w http.ResponseWriter, r *http.Request) {
	issuance, err := h.service.IssueForAttempt(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	cert, rec := issuanceViews(*issuance)
	writeJSON(w, http.StatusOK, IssuanceView{AttemptID: issuance.AttemptID, Certificate: cert, CreditRecord: rec})
}

func (h *Handler) logCreditRecord(w http.ResponseWriter, r *http.Request) {
	var req CreditRecordRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.service.LogCreditRecord(r.Context(), actor(r), req.toInput())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditRecordView(*record))
}

func (h *Handler) listCreditRecords(w http.ResponseWriter, r *http.Request) {
	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, convErr := strconv.Atoi(raw)
		if convErr != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, next, err := h.service.ListCreditRecords(r.Context(), actor(r), cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := ListCreditRecordsResponse{
		Items:      make([]CreditRecordView, 0, len(records)),
		NextCursor: persistence.EncodeCursor(next),
	}
	for _, rec := range records {
		resp.Items = append(resp.Items, toCreditRecordView(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCreditRecord(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetCreditRecord(r.Context(), actor(r), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	resp := toCreditRecordView(view.Record)
	allocations := toAllocationSetView(view.Allocations)
	resp.Allocations = &allocations
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) setAllocations(w http.ResponseWriter, r *http.Request) {
	var req AllocationsRequest
	if !h.decode(w, r, &req) {
		return
	}
	set, err := h.service.SetAllocations(r.Context(), actor(r), r.PathValue("id"), req.toInputs())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocationSetView(*set))
}

func (h *Handler) addCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialRequest
	if !h.decode(w, r, &req) {
		return
	}
	grant, err := h.service.AddCredentialGrant(r.Context(), actor(r), req.toInput())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCredentialView(*grant))
}

func (h *Handler) listCredentials(w http.ResponseWriter, r *http.Request) {
	grants, err := h.service.ListCredentialGrants(r.Context(), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]CredentialView, 0, len(grants))
	for _, g := range grants {
		items = append(items, toCredentialView(g))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) credentialProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.service.CredentialProgress(r.Context(), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]ProgressView, 0, len(progress))
	for _, p := range progress {
		items = append(items, ProgressView{
			Credential:     toCredentialView(p.Grant),
			AllocatedHours: p.AllocatedHours,
			EarnedHours:    p.EarnedHours,
			RemainingHours: p.RemainingHours,
			Percent:        p.Percent,
			DaysToDeadline: p.DaysToDeadline,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) listCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := h.service.ListCertificates(r.Context(), actor(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]CertificateView, 0, len(certs))
	for _, c := range certs {
		items = append(items, toCertificateView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) revokeCertificate(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	cert, err := h.service.RevokeCertificate(r.Context(), actor(r), r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCertificateView(*cert))
}

func (h *Handler) verifyCertificate(w http.ResponseWriter, r *http.Request) {
	verification, err := h.service.VerifyCertificate(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationView(*verification))
}

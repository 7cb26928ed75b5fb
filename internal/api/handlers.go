package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/mirador-incidents/internal/engine"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/services"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	svc      *services.IncidentService
	validate *validator.Validate
	logger   *slog.Logger
}

type analyzeRequest struct {
	TimeRangeMinutes int `json:"time_range_minutes" validate:"gte=0,lte=10080"`
	MaxTraces        int `json:"max_traces" validate:"gte=0,lte=1000"`
}

type chatRequest struct {
	Message string `json:"message" validate:"required"`
}

type statusRequest struct {
	Status models.Status `json:"status" validate:"required"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    utils.Kind `json:"kind"`
	Message string     `json:"message"`
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	var body analyzeRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	report, err := h.svc.Analyze(r.Context(), models.AnalysisRequest{
		WindowMinutes: body.TimeRangeMinutes,
		MaxTraces:     body.MaxTraces,
		UserID:        userFromRequest(r),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *handlers) listIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.IncidentFilter{
		Status:   models.Status(strings.ToUpper(q.Get("status"))),
		Category: q.Get("category"),
		GroupID:  q.Get("group_id"),
		Page:     intParam(q.Get("page")),
		Limit:    intParam(q.Get("limit")),
	}
	respondJSON(w, http.StatusOK, h.svc.ListIncidents(r.Context(), filter))
}

func (h *handlers) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inc)
}

func (h *handlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	id := chi.URLParam(r, "id")
	status := models.Status(strings.ToUpper(string(body.Status)))
	if err := h.svc.UpdateStatus(r.Context(), id, status); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

func (h *handlers) listGroups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.GroupFilter{
		Status:   models.Status(strings.ToUpper(q.Get("status"))),
		Category: q.Get("category"),
		Page:     intParam(q.Get("page")),
		Limit:    intParam(q.Get("limit")),
	}
	respondJSON(w, http.StatusOK, h.svc.Groups(r.Context(), filter))
}

func (h *handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GroupDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (h *handlers) groupPlaybook(w http.ResponseWriter, r *http.Request) {
	steps, err := h.svc.Playbook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string][]string{"steps": steps})
}

func (h *handlers) listRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.ListRules(r.Context()))
}

func (h *handlers) createRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if !h.decode(w, r, &rule, false) {
		return
	}
	created, err := h.svc.CreateRule(r.Context(), rule)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *handlers) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.AlertRule
	if !h.decode(w, r, &rule, false) {
		return
	}
	updated, err := h.svc.UpdateRule(r.Context(), chi.URLParam(r, "id"), rule)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *handlers) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Summary(r.Context()))
}

func (h *handlers) trends(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Trends(r.Context(), r.URL.Query().Get("range")))
}

func (h *handlers) storeCredential(w http.ResponseWriter, r *http.Request) {
	var cred models.Credential
	if !h.decode(w, r, &cred, false) {
		return
	}
	user := chi.URLParam(r, "user")
	if err := h.svc.StoreCredential(r.Context(), user, cred); err != nil {
		h.respondError(w, err)
		return
	}
	h.logger.Info("credentials stored", slog.String("user_id", user))
	respondJSON(w, http.StatusOK, map[string]string{"user_id": user, "status": "stored"})
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	reply, err := h.svc.Chat(r.Context(), userFromRequest(r), body.Message)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Health(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted only when allowEmpty is set.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			h.respondError(w, utils.E(utils.KindInvalidArgument, "api.decode", "malformed JSON body", err))
			return false
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, utils.E(utils.KindInvalidArgument, "api.decode", validationMessage(err), err))
		return false
	}
	return true
}

func (h *handlers) respondError(w http.ResponseWriter, err error) {
	kind := utils.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	respondJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: utils.Message(err)}})
}

func statusFor(kind utils.Kind) int {
	switch kind {
	case utils.KindInvalidArgument:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindCredentialsNotFound, utils.KindRefreshFailed, utils.KindDecryptFailed:
		return http.StatusUnauthorized
	case utils.KindEnrichmentUnavailable:
		return http.StatusBadGateway
	case utils.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" failed "+fe.Tag())
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func intParam(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// userFromRequest reads the user id from a bearer token holding base64
// encoded JSON {"user_id": ...}. Anything unreadable maps to the default
// user.
func userFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return engine.DefaultUserID
	}
	token = strings.TrimSpace(token)

	var raw []byte
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(token); err == nil {
			raw = decoded
			break
		}
	}
	if raw == nil {
		return engine.DefaultUserID
	}
	var claims struct {
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &claims); err != nil || strings.TrimSpace(claims.UserID) == "" {
		return engine.DefaultUserID
	}
	return claims.UserID
}

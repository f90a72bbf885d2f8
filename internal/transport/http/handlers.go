// Package httptransport is the thin HTTP layer over the registry services.
// Handlers decode, delegate, and translate coded errors; no domain logic
// lives here.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"contactguard/internal/blindindex"
	"contactguard/internal/canary"
	"contactguard/internal/governor"
	"contactguard/internal/reconciler"
	"contactguard/internal/resolver"
	id "contactguard/pkg/domain"
	dErrors "contactguard/pkg/domain-errors"
	"contactguard/pkg/requestcontext"
)

// Handler bundles the service dependencies of the public endpoints.
type Handler struct {
	resolver   *resolver.Service
	reconciler *reconciler.Service
	governor   *governor.Service
	canaries   *canary.Service
	aliases    *resolver.Directory
	deriver    *blindindex.Deriver
	log        *zap.Logger
}

func NewHandler(
	res *resolver.Service,
	rec *reconciler.Service,
	gov *governor.Service,
	can *canary.Service,
	aliases *resolver.Directory,
	deriver *blindindex.Deriver,
	log *zap.Logger,
) *Handler {
	return &Handler{
		resolver:   res,
		reconciler: rec,
		governor:   gov,
		canaries:   can,
		aliases:    aliases,
		deriver:    deriver,
		log:        log,
	}
}

type matchResponse struct {
	UnitID       string  `json:"unit_id"`
	Display      string  `json:"display"`
	ShortDisplay string  `json:"short_display,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// handleResolve maps free text to ranked unit candidates. Bots pass their
// caller's blind-index fingerprint in a header; it tags unrecognized-input
// logs, never a raw identity.
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if fp := r.Header.Get("X-Caller-Fingerprint"); fp != "" {
		ctx = requestcontext.WithCallerFingerprint(ctx, fp)
	}

	matches, err := h.resolver.Resolve(ctx, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]matchResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchResponse{
			UnitID:       m.UnitID.String(),
			Display:      m.Display,
			ShortDisplay: m.ShortDisplay,
			Confidence:   m.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]matchResponse{"matches": out})
}

// Submission channels. A chat bot authenticates its caller by messenger
// account; the web form is anonymous.
const (
	channelWeb = "web"
	channelBot = "bot"
)

type submissionRequest struct {
	UnitID      string `json:"unit_id"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	MessengerID string `json:"messenger_id"`
	Honorific   string `json:"honorific"`
	IsOwner     *bool  `json:"is_owner"`
	Stance      string `json:"stance"`
	VoteFormat  string `json:"vote_format"`
	Registered  *bool  `json:"registered"`
	// Channel names the submitting surface; defaults to "web".
	Channel string `json:"channel"`
}

type submissionResponse struct {
	SubjectID string   `json:"subject_id"`
	Created   bool     `json:"created"`
	Enriched  []string `json:"enriched,omitempty"`
}

// handleSubmit is the public write path: rate gate first, then the full
// reconcile inside one transaction.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	unitID, err := id.ParseUnitID(req.UnitID)
	if err != nil {
		writeError(w, err)
		return
	}

	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = channelWeb
	}

	ctx := r.Context()
	callerKey := "ip:" + requestcontext.ClientIP(ctx)
	if channel == channelBot {
		// Bot submissions rate-limit on the messenger identity, not the
		// bot's shared egress address, and the token doubles as the
		// pseudonymous fingerprint. On the web form a messenger id is just
		// another contact field and the source address stays the key.
		if token, ok := h.deriver.Derive(blindindex.KindMessenger, req.MessengerID); ok {
			callerKey = "msg:" + token
			ctx = requestcontext.WithCallerFingerprint(ctx, token)
		}
	}
	if err := h.governor.CheckRate(ctx, callerKey); err != nil {
		writeError(w, err)
		return
	}

	isOwner := true
	if req.IsOwner != nil {
		isOwner = *req.IsOwner
	}

	outcome, err := h.reconciler.Reconcile(ctx, reconciler.Request{
		UnitID: unitID,
		Fields: reconciler.Fields{
			Phone:     req.Phone,
			Email:     req.Email,
			Messenger: req.MessengerID,
			Honorific: req.Honorific,
		},
		Preferences: reconciler.Preferences{
			Stance:     reconciler.NormalizeStance(req.Stance),
			VoteFormat: reconciler.NormalizeVoteFormat(req.VoteFormat),
			Registered: req.Registered,
		},
		IsOwner:    isOwner,
		Provenance: channel,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, submissionResponse{
		SubjectID: outcome.SubjectID.String(),
		Created:   outcome.Created,
		Enriched:  outcome.Enriched,
	})
}

func (h *Handler) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		writeError(w, err)
		return
	}
	count, err := h.governor.CountPending(r.Context(), unitID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pending": count})
}

type canaryRequest struct {
	OperatorID string `json:"operator_id"`
	Scope      string `json:"scope"`
}

type canaryResponse struct {
	ID          string `json:"id"`
	UnitID      string `json:"unit_id"`
	Phone       string `json:"phone"`
	MessengerID string `json:"messenger_id"`
	Honorific   string `json:"honorific"`
}

func (h *Handler) handleCanaryIssue(w http.ResponseWriter, r *http.Request) {
	var req canaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}
	wm, err := h.canaries.IssueOrGet(r.Context(), id.OperatorID(req.OperatorID), req.Scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, canaryResponse{
		ID:          wm.ID.String(),
		UnitID:      wm.UnitID.String(),
		Phone:       wm.Phone,
		MessengerID: wm.MessengerID,
		Honorific:   wm.Honorific,
	})
}

type importRequest struct {
	Mode string      `json:"mode"`
	Rows []importRow `json:"rows"`
}

type importRow struct {
	UnitID      string   `json:"unit_id"`
	Area        *float64 `json:"area"`
	Entrance    string   `json:"entrance"`
	Floor       *int     `json:"floor"`
	UnitType    string   `json:"unit_type"`
	UnitNumber  string   `json:"unit_number"`
	Phone       string   `json:"phone"`
	Email       string   `json:"email"`
	MessengerID string   `json:"messenger_id"`
	Honorific   string   `json:"honorific"`
	IsOwner     string   `json:"is_owner"`
	Stance      string   `json:"stance"`
	VoteFormat  string   `json:"vote_format"`
}

type importRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type importResponse struct {
	Accepted int              `json:"accepted"`
	Rejected int              `json:"rejected"`
	Errors   []importRowError `json:"errors,omitempty"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	var mode reconciler.BulkMode
	switch req.Mode {
	case "", string(reconciler.ModeFull):
		mode = reconciler.ModeFull
	case string(reconciler.ModeContactsOnly):
		mode = reconciler.ModeContactsOnly
	default:
		writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unknown import mode %q", req.Mode))
		return
	}

	rows := make([]reconciler.Row, 0, len(req.Rows))
	for _, row := range req.Rows {
		rows = append(rows, reconciler.Row{
			UnitID:     row.UnitID,
			Area:       row.Area,
			Entrance:   row.Entrance,
			Floor:      row.Floor,
			UnitType:   row.UnitType,
			UnitNumber: row.UnitNumber,
			Fields: reconciler.Fields{
				Phone:     row.Phone,
				Email:     row.Email,
				Messenger: row.MessengerID,
				Honorific: row.Honorific,
			},
			IsOwner:    row.IsOwner,
			Stance:     row.Stance,
			VoteFormat: row.VoteFormat,
		})
	}

	report, err := h.reconciler.BulkLoad(r.Context(), mode, reconciler.NewSliceSource(rows))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := importResponse{Accepted: report.Accepted, Rejected: report.Rejected}
	for _, re := range report.Errors {
		resp.Errors = append(resp.Errors, importRowError{Row: re.Row, Message: re.Message})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	h.subjectTransition(w, r, h.reconciler.Validate)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.subjectTransition(w, r, h.reconciler.Deactivate)
}

func (h *Handler) subjectTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, subjectID id.SubjectID) error) {
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "subjectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := apply(r.Context(), subjectID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAliasReload(w http.ResponseWriter, r *http.Request) {
	if err := h.aliases.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

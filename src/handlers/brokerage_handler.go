package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/models"
	"github.com/username/brokerbridge/backend/src/params"
	"github.com/username/brokerbridge/backend/src/security/validation"
	"github.com/username/brokerbridge/backend/src/services"
	"github.com/username/brokerbridge/backend/src/utils"
)

// Brokerage is the service surface the data routes need.
type Brokerage interface {
	Accounts(ctx context.Context, f params.Fields) (*models.RecordPage, error)
	Holdings(ctx context.Context, f params.Fields) (*models.RecordPage, error)
	Activities(ctx context.Context, f params.Fields) (*models.RecordPage, error)
	Transactions(ctx context.Context, f params.Fields) (*models.RecordPage, error)
	Status(ctx context.Context) (any, error)
	Register(ctx context.Context, userID string) (*services.Registration, error)
	Login(ctx context.Context, req services.LoginRequest) (any, error)
	Operations() map[string][]string
}

type BrokerageHandler struct {
	svc            Brokerage
	hasClientID    bool
	hasConsumerKey bool
}

func NewBrokerageHandler(svc Brokerage, hasClientID, hasConsumerKey bool) *BrokerageHandler {
	return &BrokerageHandler{svc: svc, hasClientID: hasClientID, hasConsumerKey: hasConsumerKey}
}

type pageResponse struct {
	OK         bool                     `json:"ok"`
	Items      []models.CanonicalRecord `json:"items"`
	NextCursor *string                  `json:"nextCursor"`
	Count      int                      `json:"count"`
	Used       models.UsedOperation     `json:"used"`
}

func (h *BrokerageHandler) HandleAccounts(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, h.svc.Accounts)
}

// HandleHoldings also serves /api/positions.
func (h *BrokerageHandler) HandleHoldings(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, h.svc.Holdings)
}

// HandleActivities answers ?peek=1 with the operation inventory instead of data.
func (h *BrokerageHandler) HandleActivities(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("peek") == "1" {
		utils.WriteJSON(w, http.StatusOK, map[string]any{
			"ok":    true,
			"debug": map[string]any{"operations": h.svc.Operations()},
		})
		return
	}
	h.servePage(w, r, h.svc.Activities)
}

func (h *BrokerageHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, h.svc.Transactions)
}

func (h *BrokerageHandler) HandleOperations(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "operations": h.svc.Operations()})
}

func (h *BrokerageHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Status(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Warn("Upstream status check failed", "error", err)
		h.sendStatusError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"hasClientId":    h.hasClientID,
		"hasConsumerKey": h.hasConsumerKey,
		"status":         status,
	})
}

func (h *BrokerageHandler) sendStatusError(w http.ResponseWriter, err error) {
	status, body := utils.ErrorBody(err)
	body["hasClientId"] = h.hasClientID
	body["hasConsumerKey"] = h.hasConsumerKey
	utils.WriteJSON(w, status, body)
}

func (h *BrokerageHandler) servePage(w http.ResponseWriter, r *http.Request,
	fetch func(context.Context, params.Fields) (*models.RecordPage, error)) {
	q := r.URL.Query()
	f := params.Fields{
		UserID:     validation.CleanIdentifier(q.Get("userId")),
		UserSecret: validation.CleanSecret(q.Get("userSecret")),
		AccountID:  validation.CleanIdentifier(q.Get("accountId")),
		Start:      q.Get("start"),
		End:        q.Get("end"),
		Cursor:     validation.CleanIdentifier(q.Get("cursor")),
	}

	page, err := fetch(r.Context(), f)
	if err != nil {
		utils.SendError(w, err)
		return
	}

	items := page.Items
	if items == nil {
		items = []models.CanonicalRecord{}
	}
	if n, err := strconv.Atoi(q.Get("peek")); err == nil && n > 0 && n < len(items) {
		items = items[:n]
	}
	resp := pageResponse{OK: true, Items: items, NextCursor: page.NextCursor, Count: len(items), Used: page.Used}

	if etag, err := utils.GenerateETag(resp); err == nil {
		quoted := `"` + etag + `"`
		w.Header().Set("ETag", quoted)
		if r.Header.Get("If-None-Match") == quoted {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

package handlers

import (
	"bytes"
	"io"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/username/brokerbridge/backend/src/logger"
	"github.com/username/brokerbridge/backend/src/security/validation"
	"github.com/username/brokerbridge/backend/src/services"
	"github.com/username/brokerbridge/backend/src/utils"
)

const maxJSONBody = 1 << 20

// loginHints are forwarded to the upstream login when present in the request body.
var loginHints = []string{
	"broker", "immediateRedirect", "customRedirect", "reconnect",
	"connectionType", "connectionPortalVersion",
}

// UserHandler registers upstream users and opens connection portal sessions.
type UserHandler struct {
	svc Brokerage
}

func NewUserHandler(svc Brokerage) *UserHandler {
	return &UserHandler{svc: svc}
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	userID, _ := body["userId"].(string)
	userID = validation.CleanIdentifier(userID)

	reg, err := h.svc.Register(r.Context(), userID)
	if err != nil {
		utils.SendError(w, err)
		return
	}
	if reg.AlreadyRegistered {
		utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "alreadyRegistered": true})
		return
	}
	logger.FromContext(r.Context()).Info("User registered upstream", "userId", userID)
	utils.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "data": reg.Data})
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	req := services.LoginRequest{Options: map[string]any{}}
	req.UserID, _ = body["userId"].(string)
	req.UserSecret, _ = body["userSecret"].(string)
	req.UserID = validation.CleanIdentifier(req.UserID)
	req.UserSecret = validation.CleanSecret(req.UserSecret)
	for _, k := range loginHints {
		if v, present := body[k]; present && v != nil {
			req.Options[k] = v
		}
	}

	payload, err := h.svc.Login(r.Context(), req)
	if err != nil {
		utils.SendError(w, err)
		return
	}

	resp := map[string]any{}
	if m, isObject := payload.(map[string]any); isObject {
		for k, v := range m {
			resp[k] = v
		}
	} else {
		resp["data"] = payload
	}
	resp["ok"] = true
	utils.WriteJSON(w, http.StatusOK, resp)
}

// decodeBody reads a JSON object body; an empty body is an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		utils.SendJSONError(w, "Request body too large or unreadable", http.StatusBadRequest)
		return nil, false
	}
	body := map[string]any{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &body); err != nil || body == nil {
			utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
			return nil, false
		}
	}
	return body, true
}

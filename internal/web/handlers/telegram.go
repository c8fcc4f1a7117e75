package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/blockedby/memesite/internal/broadcast"
	"github.com/blockedby/memesite/internal/logger"
	"github.com/blockedby/memesite/internal/models"
	"github.com/blockedby/memesite/internal/repository"
	"github.com/blockedby/memesite/internal/telegram"
	"github.com/blockedby/memesite/internal/tgauth"
)

// TelegramHandler serves login and single-message sends.
type TelegramHandler struct {
	auth     Authenticator
	sender   broadcast.Sender
	sessions SessionReader
	users    TokenResolver
	log      *logger.Logger
}

// NewTelegramHandler creates a new TelegramHandler
func NewTelegramHandler(auth Authenticator, sender broadcast.Sender, sessions SessionReader, users TokenResolver, log *logger.Logger) *TelegramHandler {
	if log == nil {
		log = logger.Get()
	}
	return &TelegramHandler{
		auth:     auth,
		sender:   sender,
		sessions: sessions,
		users:    users,
		log:      log.Component("telegram-http"),
	}
}

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendCodeResponse struct {
	Success           bool   `json:"success"`
	PhoneCodeHash     string `json:"phoneCodeHash,omitempty"`
	SessionInfo       string `json:"sessionInfo"`
	AlreadyAuthorized bool   `json:"alreadyAuthorized,omitempty"`
}

// SendCode starts a login: POST /api/telegram/auth/send-code
func (h *TelegramHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.auth.RequestCode(r.Context(), req.PhoneNumber)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sendCodeResponse{
		Success:           true,
		PhoneCodeHash:     res.PhoneCodeHash,
		SessionInfo:       res.SessionInfo,
		AlreadyAuthorized: res.AlreadyAuthorized,
	})
}

type verifyRequest struct {
	Code        string `json:"code"`
	Password    string `json:"password"`
	SessionInfo string `json:"sessionInfo"`
	UserID      string `json:"userId"`
}

type verifyResponse struct {
	Success     bool                        `json:"success"`
	Message     string                      `json:"message"`
	Requires2FA bool                        `json:"requires2FA"`
	Session     string                      `json:"session,omitempty"`
	SessionInfo string                      `json:"sessionInfo,omitempty"`
	UserInfo    *models.UserProfileSnapshot `json:"userInfo,omitempty"`
}

// VerifyCode advances a login with a code and/or password: POST /api/telegram/code
//
// A valid bearer token takes precedence over the userId in the body.
func (h *TelegramHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if _, ok := bearerToken(r); ok {
		if u, err := authenticate(r, h.users); err == nil {
			userID = u.ID
		}
	}

	res, err := h.auth.Verify(r.Context(), tgauth.VerifyRequest{
		Code:        req.Code,
		Password:    req.Password,
		SessionInfo: req.SessionInfo,
		UserID:      userID,
	})
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, verifyResponse{
		Success:     res.Success,
		Message:     res.Message,
		Requires2FA: res.Requires2FA,
		Session:     res.Session,
		SessionInfo: res.SessionInfo,
		UserInfo:    res.UserInfo,
	})
}

type sendSingleRequest struct {
	Phone   string `json:"phone"`
	GroupID string `json:"groupId"`
	Message string `json:"message"`
}

type sendSingleResponse struct {
	Success    bool      `json:"success"`
	GroupID    string    `json:"groupId"`
	GroupName  string    `json:"groupName"`
	MessageID  int       `json:"messageId"`
	MessageURL *string   `json:"messageUrl"`
	Timestamp  time.Time `json:"timestamp"`
}

// SendSingle sends one message to one group: POST /api/telegram/message/single
func (h *TelegramHandler) SendSingle(w http.ResponseWriter, r *http.Request) {
	user, err := authenticate(r, h.users)
	if errors.Is(err, errUnauthorized) {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("resolve bearer token")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	var req sendSingleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	phone := models.NormalizePhone(req.Phone)
	groupID := strings.TrimSpace(req.GroupID)
	if phone == "" || groupID == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, "phone, groupId and message are required")
		return
	}

	sess, err := h.sessions.GetByPhone(r.Context(), user.ID, phone)
	if errors.Is(err, repository.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "No Telegram session found for this phone number")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("load telegram session")
		respondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	d, err := h.sender.Send(r.Context(), sess.Session, groupID, req.Message)
	if err != nil {
		h.log.Warn().Err(err).
			Str("user_id", user.ID).
			Str("phone", logger.MaskPhone(phone)).
			Str("group_id", groupID).
			Msg("single send failed")
		respondError(w, http.StatusBadRequest, telegram.ClassifyError(err))
		return
	}

	resp := sendSingleResponse{
		Success:   true,
		GroupID:   groupID,
		GroupName: d.GroupName,
		MessageID: d.MessageID,
		Timestamp: time.Now().UTC(),
	}
	if d.MessageURL != "" {
		resp.MessageURL = &d.MessageURL
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *TelegramHandler) respondAuthError(w http.ResponseWriter, err error) {
	status := tgauth.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("telegram auth failed")
	}
	respondError(w, status, tgauth.MessageOf(err))
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tradeflow/activity"
	"tradeflow/agreement"
	"tradeflow/apperr"
	"tradeflow/auth"
	"tradeflow/document"
	"tradeflow/httpx"
	"tradeflow/notification"
	"tradeflow/payload"
)

type ctxKey string

const (
	ctxKeyUserID  ctxKey = "user_id"
	ctxKeyAccount ctxKey = "account"
	ctxKeyRole    ctxKey = "role"
)

// Server is the thin HTTP adapter over the core services. The acting account
// always comes from the session token, never from the request body.
type Server struct {
	authService         *auth.Service
	agreementService    *agreement.Service
	documentService     *document.Service
	activityLog         *activity.Log
	notificationService *notification.Service
	logger              *log.Logger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(priv chi.Router) {
			priv.Use(s.authenticate)

			priv.Get("/me", s.handleMe)

			priv.Get("/agreements/{agreementID}", s.handleGetAgreement)
			priv.Get("/agreements/{agreementID}/status", s.handleAgreementStatus)
			priv.Get("/agreements/{agreementID}/roles", s.handleAgreementRoles)
			priv.Post("/agreements/{agreementID}/events", s.handleRecordEvent)

			priv.Post("/documents", s.handleMintDocument)
			priv.Get("/documents/{tokenID}", s.handleGetDocument)
			priv.Post("/documents/{tokenID}/links", s.handleLinkDocument)
			priv.Post("/documents/{tokenID}/transitions", s.handleTransitionDocument)

			priv.Get("/activity", s.handleQueryActivity)
			priv.Post("/activity", s.handleAppendActivity)

			priv.Get("/notifications", s.handleListNotifications)
			priv.Post("/notifications/{notificationID}/read", s.handleMarkNotificationRead)
			priv.Delete("/notifications/{notificationID}", s.handleDeleteNotification)
		})
	})
	return r
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Printf("api: panic serving %s %s: %v", r.Method, r.URL.Path, p)
				httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), apperr.ErrInternal.Message, nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token", nil)
			return
		}
		claims, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyAccount, claims.Account)
		ctx = context.WithValue(ctx, ctxKeyRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func accountFrom(ctx context.Context) string {
	account, _ := ctx.Value(ctxKeyAccount).(string)
	return account
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Account  string `json:"account"`
	Role     string `json:"role"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName, Account: u.Account, Role: string(u.Role)}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrMissingFields), errors.Is(err, auth.ErrInvalidAccount):
		httpx.WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	case errors.Is(err, auth.ErrDuplicateEmail), errors.Is(err, auth.ErrDuplicateAccount):
		httpx.WriteError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
		return
	case err != nil:
		s.logger.Printf("api: register: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), apperr.ErrInternal.Message, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error(), nil)
		return
	}
	if err != nil {
		s.logger.Printf("api: login: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), apperr.ErrInternal.Message, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user": toUserResponse(res.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ctxKeyUserID).(string)
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		httpx.WriteError(w, http.StatusNotFound, string(apperr.KindNotFound), "user not found", nil)
		return
	}
	if err != nil {
		s.logger.Printf("api: me: %v", err)
		httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), apperr.ErrInternal.Message, nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toUserResponse(*user))
}

func (s *Server) handleGetAgreement(w http.ResponseWriter, r *http.Request) {
	a, err := s.agreementService.Get(r.Context(), chi.URLParam(r, "agreementID"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) handleAgreementStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.agreementService.Status(r.Context(), chi.URLParam(r, "agreementID"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleAgreementRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "agreementID")
	roles, err := s.agreementService.Roles().Resolve(r.Context(), id)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	authorized, err := s.agreementService.Roles().Authorize(r.Context(), id, accountFrom(r.Context()))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"roles": roles, "authorized": authorized})
}

type recordEventRequest struct {
	Action    string          `json:"action"`
	TxID      string          `json:"txId"`
	Timestamp int64           `json:"timestamp"`
	Extra     json.RawMessage `json:"extra"`
}

func (s *Server) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var req recordEventRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	extra, err := payload.ForAction(req.Action, req.Extra)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_EXTRA", err.Error(), nil)
		return
	}
	ev, err := s.agreementService.RecordStageEvent(r.Context(), agreement.RecordParams{
		AgreementID: chi.URLParam(r, "agreementID"),
		Action:      req.Action,
		Actor:       accountFrom(r.Context()),
		TxID:        req.TxID,
		Extra:       extra,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ev)
}

type mintDocumentRequest struct {
	TokenID          string   `json:"tokenId"`
	Owner            string   `json:"owner"`
	Hash             string   `json:"hash"`
	URI              string   `json:"uri"`
	DocType          string   `json:"docType"`
	LinkedAgreements []string `json:"linkedAgreements"`
	Signer           string   `json:"signer"`
	TxID             string   `json:"txId"`
}

func (s *Server) handleMintDocument(w http.ResponseWriter, r *http.Request) {
	var req mintDocumentRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	doc, err := s.documentService.Mint(r.Context(), document.MintParams{
		TokenID:          req.TokenID,
		Owner:            req.Owner,
		Hash:             req.Hash,
		URI:              req.URI,
		Type:             document.Type(req.DocType),
		LinkedAgreements: req.LinkedAgreements,
		Signer:           req.Signer,
		Actor:            accountFrom(r.Context()),
		TxID:             req.TxID,
	})
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documentService.Get(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleLinkDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgreementID string `json:"agreementId"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	doc, err := s.documentService.Link(r.Context(), chi.URLParam(r, "tokenID"), req.AgreementID, accountFrom(r.Context()))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleTransitionDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	entry, err := s.documentService.Transition(r.Context(), chi.URLParam(r, "tokenID"), req.Action, accountFrom(r.Context()))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, entry)
}

type appendActivityRequest struct {
	Action      string          `json:"action"`
	TxID        string          `json:"txId"`
	AgreementID string          `json:"agreementId"`
	Tags        []string        `json:"tags"`
	Timestamp   int64           `json:"timestamp"`
	Extra       json.RawMessage `json:"extra"`
}

func (s *Server) handleAppendActivity(w http.ResponseWriter, r *http.Request) {
	var req appendActivityRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}
	extra, err := payload.ForAction(req.Action, req.Extra)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_EXTRA", err.Error(), nil)
		return
	}
	entry, err := s.activityLog.Append(r.Context(), activity.NewEntry{
		Timestamp:   req.Timestamp,
		Action:      req.Action,
		Actor:       accountFrom(r.Context()),
		TxID:        req.TxID,
		AgreementID: req.AgreementID,
		Tags:        req.Tags,
		Extra:       extra,
	})
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, entry)
}

// NextCursor is null once the result set is exhausted.
type activityPageResponse struct {
	Items      []activity.Entry `json:"items"`
	NextCursor *string          `json:"nextCursor"`
}

func (s *Server) handleQueryActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor, err := activity.ParseCursor(q.Get("cursor"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_CURSOR", err.Error(), nil)
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_LIMIT", "limit must be an integer", nil)
		return
	}

	page, err := s.activityLog.Query(r.Context(), activity.Filter{
		Actor:       q.Get("actor"),
		TxID:        q.Get("txId"),
		AgreementID: q.Get("agreementId"),
		Tags:        q["tag"],
	}, cursor, limit)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	resp := activityPageResponse{Items: page.Items}
	if page.NextCursor != nil {
		next := page.NextCursor.String()
		resp.NextCursor = &next
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "BAD_LIMIT", "limit must be an integer", nil)
		return
	}
	items, err := s.notificationService.List(r.Context(), accountFrom(r.Context()), q.Get("unread") == "true", limit)
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.notificationService.MarkRead(r.Context(), chi.URLParam(r, "notificationID"), accountFrom(r.Context()))
	if err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, n)
}

func (s *Server) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.notificationService.Delete(r.Context(), chi.URLParam(r, "notificationID"), accountFrom(r.Context())); err != nil {
		httpx.WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

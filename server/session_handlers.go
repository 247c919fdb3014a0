package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/server/loginsession"
	"github.com/jrsteele09/go-session-keeper/sessionapi"
	"github.com/jrsteele09/go-session-keeper/token/refresh"
)

// LogoutResponse reports how many sessions a logout ended.
type LogoutResponse struct {
	SessionsEnded int `json:"sessions_ended"`
}

// LoginHandler checks a username and password and starts a new session.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionapi.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
			writeJSONError(w, "invalid_request", "Username and password are required", http.StatusBadRequest)
			return
		}

		user, err := s.users.GetByUsername(req.Username)
		if err != nil || !user.CheckPassword(req.Password) {
			s.metrics.logins.WithLabelValues("rejected").Inc()
			writeJSONError(w, "invalid_credentials", "Invalid username or password", http.StatusUnauthorized)
			return
		}
		if user.Blocked {
			s.metrics.logins.WithLabelValues("blocked").Inc()
			writeJSONError(w, "account_blocked", "Account is blocked", http.StatusForbidden)
			return
		}

		now := time.Now()
		session := loginsession.Session{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			Username:  user.Username,
			CreatedAt: now,
		}
		rt, err := s.refreshTokens.Create(session.ID, user.ID)
		if err != nil {
			s.internalError(w, err, "Failed to create refresh token")
			return
		}
		session.ExpiresAt = rt.ExpiresAt
		if err := s.loginSessions.Upsert(session); err != nil {
			s.internalError(w, err, "Failed to store session")
			return
		}
		at, err := s.creator.CreateAccessToken(user, session.ID)
		if err != nil {
			s.internalError(w, err, "Failed to create access token")
			return
		}
		if err := s.users.SetLastLogin(user.Username); err != nil {
			s.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to record last login")
		}

		s.metrics.logins.WithLabelValues("success").Inc()
		s.logger.Info().Str("user_id", user.ID).Str("session_id", session.ID).Msg("Session started")
		writeJSON(w, http.StatusOK, sessionapi.LoginResponse{
			AccessToken:           at.Token,
			RefreshToken:          rt.Token,
			SessionID:             session.ID,
			AccessTokenExpiresAt:  at.ExpiresAt,
			RefreshTokenExpiresAt: rt.ExpiresAt,
			UserID:                user.ID,
		})
	}
}

// RefreshHandler issues a new access token for a live session, rotating the refresh
// token unless rotation is disabled.
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionapi.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" || req.RefreshToken == "" {
			writeJSONError(w, "invalid_request", "Session id and refresh token are required", http.StatusBadRequest)
			return
		}

		session, err := s.loginSessions.Get(req.SessionID)
		if err != nil {
			s.metrics.refreshes.WithLabelValues("revoked").Inc()
			writeJSONError(w, "invalid_grant", "Session has been revoked", http.StatusUnauthorized)
			return
		}

		var rt *refresh.StoredRefreshToken
		if s.rotateRefresh {
			rt, err = s.refreshTokens.Rotate(session.ID, req.RefreshToken)
		} else {
			rt, err = s.refreshTokens.Validate(session.ID, req.RefreshToken)
		}
		switch {
		case errors.Is(err, errors.ErrRefreshTokenExpired):
			s.metrics.refreshes.WithLabelValues("expired").Inc()
			s.endSession(session.ID)
			writeJSONError(w, "invalid_grant", "Refresh token expired", http.StatusUnauthorized)
			return
		case err != nil:
			s.metrics.refreshes.WithLabelValues("rejected").Inc()
			writeJSONError(w, "invalid_grant", "Invalid refresh token", http.StatusUnauthorized)
			return
		}

		user, err := s.users.GetByID(session.UserID)
		if err != nil || user.Blocked {
			s.metrics.refreshes.WithLabelValues("rejected").Inc()
			s.endSession(session.ID)
			writeJSONError(w, "invalid_grant", "Account is no longer active", http.StatusUnauthorized)
			return
		}
		at, err := s.creator.CreateAccessToken(user, session.ID)
		if err != nil {
			s.internalError(w, err, "Failed to create access token")
			return
		}

		resp := sessionapi.RefreshResponse{
			AccessToken:          at.Token,
			AccessTokenExpiresAt: at.ExpiresAt,
		}
		if s.rotateRefresh {
			session.ExpiresAt = rt.ExpiresAt
			if err := s.loginSessions.Upsert(session); err != nil {
				s.internalError(w, err, "Failed to store session")
				return
			}
			resp.RefreshToken = rt.Token
			resp.RefreshTokenExpiresAt = rt.ExpiresAt
		}

		s.metrics.refreshes.WithLabelValues("success").Inc()
		s.logger.Debug().Str("session_id", session.ID).Bool("rotated", s.rotateRefresh).Msg("Access token renewed")
		writeJSON(w, http.StatusOK, resp)
	}
}

// LogoutHandler ends the caller's session, or every session of the caller when
// all_devices is set, and revokes the presented access token.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ti, _ := ClaimsFrom(r.Context())

		var req sessionapi.LogoutRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, "invalid_request", "Malformed request body", http.StatusBadRequest)
				return
			}
		}
		if req.SessionID != "" && req.SessionID != ti.SessionID {
			session, err := s.loginSessions.Get(req.SessionID)
			if err != nil || session.UserID != ti.Sub {
				writeJSONError(w, "forbidden", "Session belongs to another user", http.StatusForbidden)
				return
			}
		}

		sessionIDs := []string{ti.SessionID}
		if req.SessionID != "" && req.SessionID != ti.SessionID {
			sessionIDs = append(sessionIDs, req.SessionID)
		}
		if req.AllDevices {
			all, err := s.loginSessions.ListByUser(ti.Sub)
			if err != nil {
				s.internalError(w, err, "Failed to list sessions")
				return
			}
			sessionIDs = sessionIDs[:0]
			for _, session := range all {
				sessionIDs = append(sessionIDs, session.ID)
			}
		}

		for _, id := range sessionIDs {
			s.endSession(id)
		}
		if err := s.revoked.Add(ti.JTI, ti.ExpiresAt); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to revoke access token")
		}

		s.logger.Info().Str("user_id", ti.Sub).Int("sessions", len(sessionIDs)).Bool("all_devices", req.AllDevices).Msg("Logged out")
		writeJSON(w, http.StatusOK, LogoutResponse{SessionsEnded: len(sessionIDs)})
	}
}

// CurrentSessionHandler describes the session the access token belongs to.
func (s *Server) CurrentSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ti, _ := ClaimsFrom(r.Context())
		session, err := s.loginSessions.Get(ti.SessionID)
		if err != nil {
			writeJSONError(w, "invalid_token", "Session has been revoked", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, sessionapi.CurrentSession{
			SessionID: session.ID,
			UserID:    session.UserID,
			ExpiresAt: session.ExpiresAt,
		})
	}
}

func (s *Server) endSession(sessionID string) {
	if err := s.refreshTokens.Revoke(sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to revoke refresh token")
	}
	if err := s.loginSessions.Delete(sessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to delete session")
		return
	}
	s.metrics.sessionsEnded.Inc()
}

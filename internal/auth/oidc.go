package auth

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		http.NotFound(w, r)
		return
	}
	state, err := generateState()
	if err != nil {
		log.Printf("auth: generating OIDC state: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, makeCookie(stateCookieName, state, 300, r))
	http.Redirect(w, r, s.login.oauth2.AuthCodeURL(state), http.StatusFound)
}

func (s *Service) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if s.login == nil {
		http.NotFound(w, r)
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := s.login.oauth2.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("auth: OIDC token exchange: %v", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "missing id_token", http.StatusUnauthorized)
		return
	}
	idToken, err := s.login.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		log.Printf("auth: OIDC token verify: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, "invalid claims", http.StatusUnauthorized)
		return
	}

	user, err := s.store.GetOrCreateUserBySubject(idToken.Subject, claims.Email, firstNonEmpty(claims.Name, claims.Username, claims.Email))
	if err != nil {
		log.Printf("auth: resolving user: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sessionToken, err := s.store.CreateSession(user.ID, time.Now().UTC().Add(SessionDuration))
	if err != nil {
		log.Printf("auth: creating session: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, makeCookie(CookieName, sessionToken, int(SessionDuration.Seconds()), r))
	http.SetCookie(w, clearCookie(stateCookieName, r))
	http.Redirect(w, r, "/", http.StatusFound)
}

// HandleLogout drops the server-side session and clears the cookie. It is
// safe to call without a session.
func (s *Service) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if err := s.store.DeleteSession(c.Value); err != nil {
			log.Printf("auth: deleting session: %v", err)
		}
	}
	http.SetCookie(w, clearCookie(CookieName, r))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type creditsView struct {
	Balance          int  `json:"balance"`
	FreeTrialGranted bool `json:"freeTrialGranted"`
	NeedsPurchase    bool `json:"needsPurchase"`
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	// The session owns free trial initialization.
	s.controller(r)
	ledger := s.accounts.Ledger(profileFrom(ctx))
	balance := ledger.Balance(ctx)
	s.writeJSON(w, http.StatusOK, creditsView{
		Balance:          balance,
		FreeTrialGranted: ledger.FreeTrialGranted(ctx),
		NeedsPurchase:    balance < 1,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.writeJSON(w, http.StatusOK, s.accounts.History(profileFrom(ctx)).List(ctx))
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.accounts.History(profileFrom(ctx)).Clear(ctx)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectHistory(w http.ResponseWriter, r *http.Request) {
	state, err := s.controller(r).SelectHistory(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, r, state, err)
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.writeJSON(w, http.StatusOK, map[string]bool{
		"seen": s.accounts.Onboarding(profileFrom(ctx)).WelcomeSeen(ctx),
	})
}

func (s *Server) handleMarkWelcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.accounts.Onboarding(profileFrom(ctx)).MarkWelcomeSeen(ctx)
	s.writeJSON(w, http.StatusOK, map[string]bool{"seen": true})
}

package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/modelstudio/internal/service"
)

const maxWebhookBytes = 1 << 20

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.tiers.Active(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tiers)
}

type checkoutRequest struct {
	TierID string `json:"tierId"`
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.TierID) == "" {
		s.writeError(w, http.StatusBadRequest, "tierId required")
		return
	}

	checkout, err := s.payments.StartCheckout(r.Context(), profileFrom(r.Context()), req.TierID)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, checkout)
}

// handleStripeWebhook is the public endpoint for Stripe events. The payload is
// only trusted after its signature checks out.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read body error")
		return
	}
	if err := s.payments.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature")); err != nil {
		s.log.Error("stripe webhook", "err", err)
		if errors.Is(err, service.ErrInvalidSignature) {
			s.writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (s *Server) handleAdminListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.tiers.List(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tiers)
}

func (s *Server) handleAdminCreateTier(w http.ResponseWriter, r *http.Request) {
	var req service.TierInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	tier, err := s.tiers.Create(r.Context(), req)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tier)
}

func (s *Server) handleAdminUpdateTier(w http.ResponseWriter, r *http.Request) {
	var req service.TierInput
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	tier, err := s.tiers.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.domainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tier)
}

func (s *Server) handleAdminDeleteTier(w http.ResponseWriter, r *http.Request) {
	if err := s.tiers.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type grantRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleAdminGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	profileID := chi.URLParam(r, "id")
	balance, err := s.payments.GrantCredits(r.Context(), profileID, req.Amount)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"profileId": profileID,
		"balance":   balance,
	})
}

func (s *Server) domainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.internalError(w, err)
		return
	}
	s.writeError(w, status, err.Error())
}

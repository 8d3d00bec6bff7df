package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ProfileHeader = "X-Profile-ID"
	ProfileCookie = "studio_profile"

	maxProfileIDLength = 128
)

type profileKey struct{}

// profileMiddleware resolves the caller's profile from the header, then the
// cookie, and issues a new cookie when neither is present.
func profileMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := validProfileID(r.Header.Get(ProfileHeader))
		if id == "" {
			if cookie, err := r.Cookie(ProfileCookie); err == nil {
				id = validProfileID(cookie.Value)
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ProfileCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int((365 * 24 * time.Hour).Seconds()),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), profileKey{}, id)))
	})
}

func validProfileID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxProfileIDLength {
		return ""
	}
	// Telegram profiles are only reachable through the bot.
	if strings.HasPrefix(id, "tg:") {
		return ""
	}
	return id
}

func profileFrom(ctx context.Context) string {
	id, _ := ctx.Value(profileKey{}).(string)
	return id
}

package discordbot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"entrybot/event_service"
	"entrybot/roster_service"
)

const memberPageSize = 1000

// GuildManager is a concise view of a guild member holding a manager role.
type GuildManager struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Nickname string   `json:"nickname,omitempty"`
	Roles    []string `json:"roles"`
}

type GuildManagersResponse struct {
	GuildID  string         `json:"guild_id"`
	Managers []GuildManager `json:"managers"`
}

// MemberLister pages through guild members. *discordgo.Session implements it.
type MemberLister interface {
	GuildMembers(guildID, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
}

type RosterSource interface {
	Roster() roster_service.View
}

// API is the small operator HTTP surface.
type API struct {
	Members MemberLister
	Roster  RosterSource
	Auth    event_service.Authorizer
	GuildID string
	Logger  zerolog.Logger
}

func (a API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/roster", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.Roster.Roster())
	})
	r.Get("/managers", a.managers)
	return r
}

func (a API) managers(w http.ResponseWriter, r *http.Request) {
	if a.GuildID == "" {
		http.Error(w, "guild id not configured", http.StatusNotFound)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	members, err := guildManagers(ctx, a.Members, a.GuildID, a.Auth)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to fetch guild members: %v", err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, GuildManagersResponse{GuildID: a.GuildID, Managers: members})
}

// guildManagers walks the member list page by page and keeps members holding
// at least one manager role.
func guildManagers(ctx context.Context, s MemberLister, guildID string, auth event_service.Authorizer) ([]GuildManager, error) {
	out := []GuildManager{}
	var after string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		members, err := s.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m.User == nil {
				continue
			}
			after = m.User.ID
			for _, role := range m.Roles {
				if auth.Has(role) {
					out = append(out, GuildManager{
						ID:       m.User.ID,
						Username: m.User.Username,
						Nickname: m.Nick,
						Roles:    append([]string{}, m.Roles...),
					})
					break
				}
			}
		}
		if len(members) < memberPageSize {
			return out, nil
		}
	}
}

func (a API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			a.Logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

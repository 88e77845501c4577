package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chatgate/pkg/catalog"
	"chatgate/pkg/dispatch"
	"chatgate/pkg/ledger"
)

// defaultHeroText greets the UI before the deployer saves any settings.
const defaultHeroText = "Ready when you are."

// quotaExhaustedMessage is what shared-key callers see once the daily budget
// is spent.
const quotaExhaustedMessage = "daily free limit reached, add your own API key to continue"

type chatPayload struct {
	Model    string                 `json:"model"`
	Provider string                 `json:"provider"`
	Messages []dispatch.ChatMessage `json:"messages"`
	Image    string                 `json:"image,omitempty"`
}

type settingsPayload struct {
	UserID   string `json:"userId,omitempty"`
	HeroText string `json:"heroText"`
	APIKey   string `json:"apiKey"`
}

// effectiveGeminiKey resolves the Gemini credential for one request. A key in
// the request header wins and marks the call bring-your-own-key.
func (s *Server) effectiveGeminiKey(r *http.Request) (key string, byok bool) {
	if k := strings.TrimSpace(r.Header.Get(byokHeader)); k != "" {
		return k, true
	}
	return s.cfg.Gemini.APIKey, false
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	key, _ := s.effectiveGeminiKey(r)
	models := s.catalog.ListModels(r.Context(), key, catalog.Options{
		IncludeExtended: r.URL.Query().Get("more") == "true",
	})
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// handleStats reports component health plus what is left of today's shared
// budget. Field names are the dashboard's contract.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	remaining, err := s.store.Remaining(r.Context(), ledger.DayKey(s.now()), s.cfg.DailyLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("read usage count")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"functions":       "online",
		"gemini":          onlineWhen(s.cfg.Gemini.APIKey != ""),
		"d1":              "online",
		"cf_ai":           onlineWhen(s.cfg.WorkersAI.AccountID != "" && s.cfg.WorkersAI.APIToken != ""),
		"remaining_limit": remaining,
	})
}

func onlineWhen(ok bool) string {
	if ok {
		return "online"
	}
	return "offline"
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	stored, found, err := s.store.GetSettings(r.Context(), ledger.DefaultSettingsID)
	if err != nil {
		s.logger.Error().Err(err).Msg("read settings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := settingsPayload{UserID: ledger.DefaultSettingsID, HeroText: defaultHeroText}
	if found {
		out = settingsPayload{UserID: stored.ID, HeroText: stored.HeroText, APIKey: stored.APIKey}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var in settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid settings payload: "+err.Error())
		return
	}
	err := s.store.UpsertSettings(r.Context(), ledger.Settings{
		ID:       in.UserID,
		HeroText: in.HeroText,
		APIKey:   in.APIKey,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("save settings")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var in chatPayload
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusInternalServerError, "invalid chat payload: "+err.Error())
		return
	}
	key, byok := s.effectiveGeminiKey(r)

	if !byok {
		admitted, _, err := s.store.Admit(r.Context(), ledger.DayKey(s.now()), s.cfg.DailyLimit)
		if err != nil {
			s.logger.Error().Err(err).Msg("quota admission")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !admitted {
			s.metrics.QuotaRejected.Inc()
			writeError(w, http.StatusTooManyRequests, quotaExhaustedMessage)
			return
		}
	}

	content, err := s.dispatcher.Dispatch(r.Context(), dispatch.ChatRequest{
		Model:    in.Model,
		Provider: in.Provider,
		Messages: in.Messages,
		Image:    in.Image,
	}, dispatch.Credentials{GeminiKey: key})
	if err != nil {
		s.metrics.ChatRequests.WithLabelValues(in.Provider, chatOutcome(err)).Inc()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.ChatRequests.WithLabelValues(in.Provider, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"content": content})
}

func chatOutcome(err error) string {
	var upstream *dispatch.UpstreamError
	switch {
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders every failure in the single envelope the UI expects.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

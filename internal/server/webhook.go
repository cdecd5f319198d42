package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/yerzhan-dev/manybot/internal/registry"
	"github.com/yerzhan-dev/manybot/internal/store"
)

const maxUpdateBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleParentWebhook accepts updates for the platform's own bot. The
// path segment doubles as authentication: only Telegram knows the
// token-addressed URL.
func (s *Server) handleParentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("token") != s.parentToken {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}

	upd, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}

	s.router.HandleParentUpdate(r.Context(), upd)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleChildWebhook accepts updates for a registered child bot,
// addressed as /u/{owner}_{botID}.
func (s *Server) handleChildWebhook(w http.ResponseWriter, r *http.Request) {
	owner, botID, err := parsePair(r.PathValue("pair"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}

	upd, ok := s.decodeUpdate(w, r)
	if !ok {
		return
	}

	switch err := s.router.HandleChildUpdate(r.Context(), owner, botID, upd); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case errors.Is(err, registry.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
	case errors.Is(err, store.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
	default:
		s.log.Error("child webhook failed",
			zap.Int64("owner", owner),
			zap.Int64("bot_id", botID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false})
	}
}

func (s *Server) decodeUpdate(w http.ResponseWriter, r *http.Request) (*tgbotapi.Update, bool) {
	var upd tgbotapi.Update
	body := http.MaxBytesReader(w, r.Body, maxUpdateBytes)
	if err := json.NewDecoder(body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false})
		return nil, false
	}
	return &upd, true
}

func parsePair(pair string) (owner, botID int64, err error) {
	left, right, ok := strings.Cut(pair, "_")
	if !ok {
		return 0, 0, errors.New("malformed pair")
	}
	owner, err = strconv.ParseInt(left, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	botID, err = strconv.ParseInt(right, 10, 64)
	if err != nil {
		return 0, 0, err
	}
	return owner, botID, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

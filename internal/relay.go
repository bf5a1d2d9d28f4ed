package internal

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	"manualpilot/notify/auth"
	"manualpilot/notify/protocol"
)

type NotifyResponse struct {
	Delivered bool `json:"delivered"`
}

// NotifyHandler accepts job completion notices from the backend job system.
func NotifyHandler(gw *Gateway, logger *slog.Logger, verifier auth.RequestVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sender := verifier(r)
		if sender == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		msg := protocol.Message{}
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.Recipient == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		log := logger.With(
			slog.String("sender", sender),
			slog.String("recipient", msg.Recipient),
			slog.String("job", msg.JobType),
		)

		switch msg.JobType {
		case protocol.JobTypeData:
			delivered, err := gw.Push(r.Context(), msg, "")
			if err != nil {
				log.Error("failed to push", slog.Any("err", err))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			status := http.StatusOK
			if !delivered {
				status = http.StatusAccepted
			}

			writeJSON(w, status, NotifyResponse{Delivered: delivered})
		case protocol.JobTypeDownload:
			n, err := gw.Notify(r.Context(), msg, "")
			if err != nil {
				log.Error("failed to notify", slog.Any("err", err))
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusAccepted, NotifyResponse{Delivered: n > 0})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

// RetractHandler drops the most recently buffered message of a recipient, for jobs the
// backend superseded before anyone picked the notice up.
func RetractHandler(gw *Gateway, logger *slog.Logger, verifier auth.RequestVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier(r) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		recipient, err := recipientParam(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := gw.Retract(r.Context(), recipient); err != nil {
			logger.Error("failed to retract", slog.String("recipient", recipient), slog.Any("err", err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// DropHandler closes every connection of a recipient, e.g. on sign out.
func DropHandler(gw *Gateway, logger *slog.Logger, verifier auth.RequestVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier(r) == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		recipient, err := recipientParam(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		n, err := gw.Drop(r.Context(), recipient)
		if err != nil {
			logger.Error("failed to relay drop", slog.String("recipient", recipient), slog.Any("err", err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		logger.Info("dropped", slog.String("recipient", recipient), slog.Int("connections", n))
		w.WriteHeader(http.StatusNoContent)
	}
}

// recipientParam decodes the recipient path segment. chi matches on RawPath when the request
// path carries escapes such as %2F, and then leaves the segment escaped.
func recipientParam(r *http.Request) (string, error) {
	recipient := chi.URLParam(r, "recipient")
	if r.URL.RawPath == "" {
		return recipient, nil
	}

	return url.PathUnescape(recipient)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/log"
	"relaychat/internal/metrics"
)

// RosterVersionHeader carries the roster version on GET /topic/publicKeys.
const RosterVersionHeader = "X-Roster-Version"

// QueueSeqHeader carries the sequence number of the first delivery returned
// by GET /user/{id}/queue/messages. The deliveries that follow are numbered
// consecutively.
const QueueSeqHeader = "X-Queue-First-Seq"

// maxBodyBytes bounds request bodies. A bundle for a few hundred recipients
// of a short message fits comfortably.
const maxBodyBytes = 4 << 20

// RegisterResponse is the body returned by POST /app/registerKey.
type RegisterResponse struct {
	ParticipantID string `json:"participantId"`
}

// RouteResponse is the body returned by POST /app/sendMessage.
type RouteResponse struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// AckRequest is the body of POST /user/{id}/queue/messages/ack. Every
// delivery numbered up to and including UpTo is removed.
type AckRequest struct {
	UpTo uint64 `json:"upTo"`
}

// AckResponse reports how many deliveries were removed.
type AckResponse struct {
	Removed int `json:"removed"`
}

type server struct {
	hub *Hub
	log log.Logger
}

// NewServer returns the relay HTTP API over hub:
//
//	GET  /params
//	POST /app/registerKey
//	GET  /topic/publicKeys
//	POST /app/sendMessage
//	GET  /user/{id}/queue/messages?limit=N
//	POST /user/{id}/queue/messages/ack
func NewServer(hub *Hub, l log.Logger) http.Handler {
	s := &server{hub: hub, log: l.Named("http")}

	r := chi.NewRouter()
	r.Get("/params", s.params)
	r.Post(domain.TopicRegisterKey, s.register)
	r.Get(domain.TopicPublicKeys, s.roster)
	r.Post(domain.TopicSendMessage, s.route)
	r.Route("/user/{id}/queue/messages", func(r chi.Router) {
		r.Get("/", s.fetch)
		r.Post("/ack", s.ack)
	})
	return metrics.InstrumentHandler(r)
}

func (s *server) params(w http.ResponseWriter, r *http.Request) {
	b, err := domain.MarshalParams(s.hub.Params())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeRaw(w, http.StatusOK, b)
}

func (s *server) register(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	reg, err := domain.ParseRegistration(body)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	id, err := s.hub.Register(reg.ParticipantID, reg.PublicKey)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterResponse{ParticipantID: string(id)})
}

func (s *server) roster(w http.ResponseWriter, r *http.Request) {
	roster, version := s.hub.Roster()
	b, err := json.Marshal(roster)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set(RosterVersionHeader, strconv.FormatUint(version, 10))
	writeRaw(w, http.StatusOK, b)
}

func (s *server) route(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	bundle, err := domain.ParseBundle(body)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	queued, skipped, err := s.hub.Route(bundle)
	if err != nil {
		s.fail(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, RouteResponse{Queued: queued, Skipped: skipped})
}

func (s *server) fetch(w http.ResponseWriter, r *http.Request) {
	id := domain.ParticipantID(chi.URLParam(r, "id"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, r, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	batch := s.hub.Fetch(id, limit)
	out := make([]json.RawMessage, batch.Len())
	for i, b := range batch.Bodies {
		out[i] = b
	}
	if batch.Len() > 0 {
		w.Header().Set(QueueSeqHeader, strconv.FormatUint(batch.First, 10))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) ack(w http.ResponseWriter, r *http.Request) {
	id := domain.ParticipantID(chi.URLParam(r, "id"))
	body, err := readBody(r)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, err)
		return
	}
	var req AckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.fail(w, r, http.StatusBadRequest, errors.New("invalid ack body"))
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Removed: s.hub.Ack(id, req.UpTo)})
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, code int, err error) {
	s.log.Warnw("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, crypto.ErrInvalidPublicKey), errors.Is(err, crypto.ErrDecode),
		errors.Is(err, domain.ErrInvalidParticipantID):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueLimit):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeRaw(w, code, b)
}

func writeRaw(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

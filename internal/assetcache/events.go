package assetcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ServeEvents streams broadcast messages to one client as server-sent
// events until the client goes away or the service closes.
func (s *Service) ServeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	msgs, disconnect := s.Connect()
	defer disconnect()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error("encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ServeMessage accepts a JSON control message such as
// {"type":"SKIP_WAITING"}.
func (s *Service) ServeMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&msg); err != nil || msg.Type == "" {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	if err := s.Post(r.Context(), msg); err != nil {
		if errors.Is(err, ErrClosed) {
			http.Error(w, "asset cache closed", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "message not delivered", http.StatusRequestTimeout)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

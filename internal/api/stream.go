package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const streamHeartbeat = 15 * time.Second

// StreamAvailability pushes refreshes for one event as server-sent events.
// The first message is the full availability map.
func (h *Handlers) StreamAvailability(w http.ResponseWriter, r *http.Request, eventID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorMessage(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	statuses, err := h.gateway.CheckAvailability(r.Context(), eventID)
	if err != nil {
		respondError(w, err)
		return
	}

	updates, cancel := h.gateway.Subscribe(eventID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", AvailabilityResponse{EventID: eventID, TicketTypes: statuses}); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, u.Kind, u); err != nil {
				log.Printf("[API] Stream for %s closed: %v", eventID, err)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
	return err
}

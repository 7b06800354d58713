package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/scottring/ParentPulse-sub002/internal/live"
)

// streamSnapshots writes snapshots as server-sent events until the client
// goes away. A snapshot without a value is sent as goneEvent with null data.
func streamSnapshots[T any](s *HTTPServer, w http.ResponseWriter, r *http.Request, snapshots <-chan live.Snapshot[T], goneEvent string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snapshot, open := <-snapshots:
			if !open {
				return
			}
			if err := writeEvent(w, snapshot, goneEvent); err != nil {
				s.logger.Warn("write event", zap.String("request_id", requestID(r.Context())), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent[T any](w io.Writer, snapshot live.Snapshot[T], goneEvent string) error {
	if !snapshot.Exists {
		_, err := fmt.Fprintf(w, "event: %s\ndata: null\n\n", goneEvent)
		return err
	}
	payload, err := json.Marshal(snapshot.Value)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", payload)
	return err
}

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitemirror/sitemirror/internal/pipeline"
)

// progressEvent is one SSE frame on the job events stream.
type progressEvent struct {
	JobID   string         `json:"job_id"`
	Phase   pipeline.Phase `json:"phase"`
	Percent int            `json:"percent"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
}

// handleProgressStream streams job progress as server-sent events. The
// stream polls the durable job record, so it survives process restarts and
// any number of observers can attach to the same job.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(ev progressEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	sendDone := func(reason string) {
		fmt.Fprintf(w, "event: done\ndata: %s\n\n", reason)
		flusher.Flush()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last progressEvent
	for {
		job, err := s.orch.Status(jobID)
		if err != nil {
			sendDone("job not found")
			return
		}

		ev := progressEvent{
			JobID:   job.ID,
			Phase:   job.Phase,
			Percent: job.Percent,
			Status:  job.Status,
			Message: job.Message,
		}
		if ev != last {
			send(ev)
			last = ev
		}

		if job.Status == "completed" || job.Status == "failed" {
			sendDone(job.Status)
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

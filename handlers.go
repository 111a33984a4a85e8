package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/kwv/trajalign/traj"
)

// evaluateFunc re-runs the evaluation of a configured pair
type evaluateFunc func(ctx context.Context, pair string) (*traj.Evaluation, error)

// pairInfo is one entry of the /pairs listing
type pairInfo struct {
	Name        string        `json:"name"`
	Format      string        `json:"format"`
	First       string        `json:"first"`
	Second      string        `json:"second"`
	Evaluated   bool          `json:"evaluated"`
	RunID       string        `json:"runId,omitempty"`
	Summary     *traj.Summary `json:"summary,omitempty"`
	EvaluatedAt *time.Time    `json:"evaluatedAt,omitempty"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(store *traj.ResultStore, config *traj.Config, evaluate evaluateFunc) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		status := struct {
			Status    string    `json:"status"`
			Timestamp time.Time `json:"timestamp"`
			Pairs     int       `json:"pairs"`
			Evaluated int       `json:"evaluated"`
		}{
			Status:    "ok",
			Timestamp: time.Now(),
			Pairs:     len(config.Pairs),
			Evaluated: store.Len(),
		}
		writeJSON(w, http.StatusOK, status)
	})

	// Configured pairs with their latest summary, in config order
	mux.HandleFunc("GET /pairs", func(w http.ResponseWriter, r *http.Request) {
		infos := make([]pairInfo, 0, len(config.Pairs))
		for _, pc := range config.Pairs {
			info := pairInfo{
				Name:   pc.Name,
				Format: pc.GetFormat(),
				First:  pc.First,
				Second: pc.Second,
			}
			if ev, ok := store.Get(pc.Name); ok {
				summary := ev.Summary
				evaluatedAt := ev.EvaluatedAt
				info.Evaluated = true
				info.RunID = ev.RunID
				info.Summary = &summary
				info.EvaluatedAt = &evaluatedAt
			}
			infos = append(infos, info)
		}
		writeJSON(w, http.StatusOK, infos)
	})

	// Latest evaluation; reconstructed poses only with ?poses=true
	mux.HandleFunc("GET /pairs/{name}", func(w http.ResponseWriter, r *http.Request) {
		ev, ok := lookupEvaluation(w, r, store, config)
		if !ok {
			return
		}
		view := *ev
		if r.URL.Query().Get("poses") != "true" {
			view.Poses = nil
		}
		writeJSON(w, http.StatusOK, view)
	})

	// Matched stamp pairs as JSON, or associate-style lines with ?format=text
	mux.HandleFunc("GET /pairs/{name}/matches", func(w http.ResponseWriter, r *http.Request) {
		ev, ok := lookupEvaluation(w, r, store, config)
		if !ok {
			return
		}
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			for _, m := range ev.Matches {
				fmt.Fprintf(w, "%s %s\n", m.First, m.Second)
			}
			return
		}
		writeJSON(w, http.StatusOK, ev.Matches)
	})

	// Matched XY paths as GeoJSON, optionally simplified
	mux.HandleFunc("GET /pairs/{name}/geojson", func(w http.ResponseWriter, r *http.Request) {
		tolerance := 0.0
		if s := r.URL.Query().Get("simplify"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || v < 0 {
				http.Error(w, "simplify must be a non-negative number", http.StatusBadRequest)
				return
			}
			tolerance = v
		}

		ev, ok := lookupEvaluation(w, r, store, config)
		if !ok {
			return
		}
		fc, err := traj.TrajectoryGeoJSON(ev, tolerance)
		if errors.Is(err, traj.ErrNoPoses) {
			http.Error(w, "Pair has no poses (list format)", http.StatusUnprocessableEntity)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data, err := json.Marshal(fc)
		if err != nil {
			log.Printf("[HTTP] Error encoding GeoJSON for %s: %v", ev.Pair, err)
			http.Error(w, "Error encoding GeoJSON", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(data)
	})

	// Re-run the evaluation of a pair
	mux.HandleFunc("POST /pairs/{name}/evaluate", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		log.Printf("[HTTP] evaluation of %s requested by %s", name, r.RemoteAddr)

		ev, err := evaluate(r.Context(), name)
		if errors.Is(err, traj.ErrUnknownPair) {
			http.Error(w, "Unknown pair", http.StatusNotFound)
			return
		}
		if err != nil {
			log.Printf("[HTTP] evaluation of %s failed: %v", name, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Pair    string       `json:"pair"`
			RunID   string       `json:"runId"`
			Summary traj.Summary `json:"summary"`
		}{ev.Pair, ev.RunID, ev.Summary})
	})

	return mux
}

// lookupEvaluation writes 404 for unknown pairs and 503 for pairs that have
// not been evaluated yet
func lookupEvaluation(w http.ResponseWriter, r *http.Request, store *traj.ResultStore, config *traj.Config) (*traj.Evaluation, bool) {
	name := r.PathValue("name")
	if config.GetPair(name) == nil {
		http.Error(w, "Unknown pair", http.StatusNotFound)
		return nil, false
	}
	ev, ok := store.Get(name)
	if !ok {
		http.Error(w, "Pair not evaluated yet", http.StatusServiceUnavailable)
		return nil, false
	}
	return ev, true
}

// writeJSON encodes v before writing the header so an encoding failure is
// reported as a 500 instead of an empty success
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[HTTP] Error encoding response: %v", err)
		http.Error(w, "Error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

// Package web serves the read-only status API.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gnssmon/internal/monitor"
)

// EventSource returns recent monitor events, oldest first, and the total
// number of events since start.
type EventSource interface {
	Recent(n int) ([]monitor.Event, uint64)
}

type EventsResponse struct {
	NowUTC string          `json:"now_utc"`
	Total  uint64          `json:"total"`
	Events []monitor.Event `json:"events"`
}

func Handler(status *Status, events EventSource, logs *LogBuffer) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.Handle("/api/status", getOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	}))

	if events != nil {
		mux.Handle("/api/events", getOnly(func(w http.ResponseWriter, r *http.Request) {
			tail, ok := parseTail(w, r, 100)
			if !ok {
				return
			}
			evs, total := events.Recent(tail)
			if evs == nil {
				evs = []monitor.Event{}
			}
			writeJSON(w, EventsResponse{
				NowUTC: time.Now().UTC().Format(time.RFC3339Nano),
				Total:  total,
				Events: evs,
			})
		}))
	}

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}

	mux.Handle("/api/about", AboutHandler())

	mux.Handle("/", getOnly(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>gnssmon</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>gnssmon</h1>")
		_, _ = fmt.Fprintf(w, "<p>See <a href=\"/api/status\">/api/status</a>, <a href=\"/api/events\">/api/events</a> and <a href=\"/api/logs?format=text\">/api/logs</a>.</p>")
		_, _ = fmt.Fprintf(w, "<pre>session=%s\ndevice=%s\nuptime_sec=%d</pre>",
			html.EscapeString(snap.Session), html.EscapeString(snap.Device), snap.UptimeSec)
		_, _ = fmt.Fprintf(w, "</body></html>")
	}))

	return mux
}

func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func getOnly(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}

// parseTail reads the tail query parameter. It writes a 400 and reports
// false when the value is invalid.
func parseTail(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	s := strings.TrimSpace(r.URL.Query().Get("tail"))
	if s == "" {
		return def, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 || v > 5000 {
		http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
		return 0, false
	}
	return v, true
}

// Package api exposes the webmention endpoint, its advertisement and the
// operational routes over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/models"
	"github.com/dshanske/wordpress-webmention/internal/receiver"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MentionReceiver processes inbound webmentions and rebuilds stored ones
type MentionReceiver interface {
	Receive(ctx context.Context, source, target string) (*receiver.Result, error)
	Rederive(ctx context.Context, mentionID string) (*receiver.Result, error)
}

// Publisher flags published documents for sending
type Publisher interface {
	MarkPublished(ctx context.Context, documentID string) (bool, error)
}

// Sweeper runs every pending delivery
type Sweeper interface {
	RunPending(ctx context.Context) (int, error)
}

// Monitor records rejections and reports metrics
type Monitor interface {
	RecordRejected(status int, message string)
	GetMetrics() string
}

// Dependencies are the services the router dispatches to
type Dependencies struct {
	Receiver  MentionReceiver
	Publisher Publisher
	Sweeper   Sweeper
	Monitor   Monitor
	Documents storage.DocumentStore
	Gatherer  prometheus.Gatherer
}

// NewRouter builds the HTTP routes
func NewRouter(cfg *config.Config, deps Dependencies) *mux.Router {
	endpoint := cfg.EndpointURL()

	router := mux.NewRouter()
	router.Use(advertiseMiddleware(endpoint))

	router.HandleFunc(cfg.EndpointPath, webmentionHandler(deps.Receiver, deps.Monitor)).Methods("POST")

	router.HandleFunc("/.well-known/host-meta.json", hostMetaHandler(endpoint)).Methods("GET")
	router.HandleFunc("/.well-known/webfinger", webfingerHandler(endpoint)).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", healthCheckHandler).Methods("GET")

	// Metrics endpoints
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/stats", statsHandler(deps.Monitor)).Methods("GET")

	// Manual trigger for the pending delivery sweep
	router.HandleFunc("/pings/run", triggerHandler(deps.Sweeper)).Methods("POST")
	router.HandleFunc("/documents/{id}", saveDocumentHandler(deps.Documents)).Methods("PUT")
	router.HandleFunc("/documents/{id}/publish", publishHandler(deps.Publisher, deps.Documents)).Methods("POST")
	router.HandleFunc("/mentions/{id}/rederive", rederiveHandler(deps.Receiver)).Methods("POST")

	return router
}

func webmentionHandler(rcv MentionReceiver, monitor Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeText(w, http.StatusBadRequest, "Invalid form body")
			return
		}

		result, err := rcv.Receive(r.Context(), r.PostForm.Get("source"), r.PostForm.Get("target"))
		if err != nil {
			var rejection *receiver.Rejection
			if !errors.As(err, &rejection) {
				rejection = &receiver.Rejection{Status: http.StatusInternalServerError, Message: receiver.MsgHandlerFailed, Err: err}
			}
			if monitor != nil {
				monitor.RecordRejected(rejection.Status, rejection.Message)
			}
			writeText(w, rejection.Status, rejection.Message)
			return
		}

		writeText(w, http.StatusOK, result.Permalink)
	}
}

func hostMetaHandler(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, JRD{Links: JRDLinks(endpoint)})
	}
}

func webfingerHandler(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resource := r.URL.Query().Get("resource")
		if resource == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resource is required"})
			return
		}
		writeJSON(w, http.StatusOK, JRD{Subject: resource, Links: JRDLinks(endpoint)})
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
}

func statsHandler(monitor Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(monitor.GetMetrics()))
	}
}

func triggerHandler(sweeper Sweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go func() {
			if _, err := sweeper.RunPending(context.Background()); err != nil {
				logrus.Errorf("Manual sweep trigger failed: %v", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sweep triggered successfully"})
	}
}

func publishHandler(publisher Publisher, documents storage.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		if _, err := documents.GetDocument(r.Context(), id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
				return
			}
			logrus.Errorf("Failed to load document %s: %v", id, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load document"})
			return
		}

		queued, err := publisher.MarkPublished(r.Context(), id)
		if err != nil {
			logrus.Errorf("Failed to queue document %s: %v", id, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to queue document"})
			return
		}

		writeJSON(w, http.StatusAccepted, publishResponse{DocumentID: id, Queued: queued})
	}
}

// saveDocumentHandler registers or replaces a host document
func saveDocumentHandler(documents storage.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doc models.Document
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document"})
			return
		}
		doc.ID = mux.Vars(r)["id"]
		if doc.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}

		if err := documents.SaveDocument(r.Context(), &doc); err != nil {
			logrus.Errorf("Failed to save document %s: %v", doc.ID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save document"})
			return
		}

		writeJSON(w, http.StatusOK, doc)
	}
}

// rederiveHandler rebuilds a mention from its archived source
func rederiveHandler(rcv MentionReceiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		result, err := rcv.Rederive(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, rederiveResponse{MentionID: result.Mention.ID, Permalink: result.Permalink})
		case errors.Is(err, receiver.ErrNoArchive):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, storage.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "mention or archived source not found"})
		default:
			logrus.Errorf("Failed to re-derive mention %s: %v", id, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to re-derive mention"})
		}
	}
}

type rederiveResponse struct {
	MentionID string `json:"mention_id"`
	Permalink string `json:"permalink"`
}

type publishResponse struct {
	DocumentID string `json:"document_id"`
	Queued     bool   `json:"queued"`
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/adred-codev/topichub/internal/broker"
)

// maxTopicNameLen bounds topic names, in characters.
const maxTopicNameLen = 100

// REST request/response bodies.

type createTopicRequest struct {
	Name string `json:"name"`
}

type topicStatusResponse struct {
	Status string `json:"status"`
	Topic  string `json:"topic"`
}

type listTopicsResponse struct {
	Topics []string `json:"topics"`
}

type healthResponse struct {
	UptimeSec   int64 `json:"uptime_sec"`
	Topics      int   `json:"topics"`
	Subscribers int   `json:"subscribers"`
}

type statsResponse struct {
	Topics map[string]broker.TopicStats `json:"topics"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleCreateTopic maps POST /topics to Broker.CreateTopic. 201 on
// success, 409 on duplicate, 422 on schema violation.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid request body"})
		return
	}
	if n := utf8.RuneCountInString(req.Name); n < 1 || n > maxTopicNameLen {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "name must be 1-100 characters"})
		return
	}

	if err := s.broker.CreateTopic(req.Name); err != nil {
		if errors.Is(err, broker.ErrTopicExists) {
			writeJSON(w, http.StatusConflict, errorResponse{Detail: "Topic already exists"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, topicStatusResponse{Status: "created", Topic: req.Name})
}

// handleDeleteTopic maps DELETE /topics/{name} to Broker.DeleteTopic. 200
// on success, 404 when absent.
func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.broker.DeleteTopic(name); err != nil {
		if errors.Is(err, broker.ErrTopicNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Topic not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, topicStatusResponse{Status: "deleted", Topic: name})
}

// handleListTopics maps GET /topics to a snapshot of topic names.
func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics := s.broker.Topics()
	if topics == nil {
		topics = []string{}
	}
	writeJSON(w, http.StatusOK, listTopicsResponse{Topics: topics})
}

// handleHealth serves the aggregate snapshot with uptime stamped here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.broker.HealthStats()
	writeJSON(w, http.StatusOK, healthResponse{
		UptimeSec:   int64(time.Since(s.startTime).Seconds()),
		Topics:      stats.Topics,
		Subscribers: stats.Subscribers,
	})
}

// handleStats serves the per-topic snapshot.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{Topics: s.broker.Stats()})
}

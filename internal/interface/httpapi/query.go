package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/query"
)

// queryRequest は質問APIのリクエストボディ
type queryRequest struct {
	Question string       `json:"question"`
	History  []query.Turn `json:"history,omitempty"`
}

func decodeQueryRequest(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return queryRequest{}, false
	}
	return req, true
}

// handleQuery はストリームを集約して最終結果のみを返します
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	events, err := s.engine.Answer(r.Context(), req.Question, req.History)
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var result *query.Result
	var failure string
	for ev := range events {
		switch ev.Type {
		case query.EventComplete:
			result = ev.Result
		case query.EventError:
			failure = ev.Message
		}
	}

	if result == nil {
		if failure == "" {
			failure = "query produced no result"
		}
		writeError(w, http.StatusBadGateway, failure)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQueryStream はServer-Sent Eventsで回答を逐次配信します
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQueryRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, err := s.engine.Answer(r.Context(), req.Question, req.History)
	if err != nil {
		if errors.Is(err, query.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("イベントのエンコードに失敗しました", "error", err)
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

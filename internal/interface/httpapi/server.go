// Package httpapi はタスク・グラフ・質問応答のHTTP APIを提供します
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/document"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/ingestion"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/query"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/resolution"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
	"github.com/bmccarn/paperless-knowledge-graph/internal/core/vector"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/cache"
)

// Deps はServerの依存一式
type Deps struct {
	Registry  *task.Registry
	Pipeline  *ingestion.Pipeline
	Resolver  *resolution.Resolver
	Engine    *query.Engine
	GraphRepo graph.Repository
	Vectors   vector.Store
	Source    document.Source
	Cache     *cache.Cache
	SyncState ingestion.SyncStateStore
	Logger    *slog.Logger
}

// Server はHTTP APIのハンドラ群を束ねます
type Server struct {
	registry  *task.Registry
	pipeline  *ingestion.Pipeline
	resolver  *resolution.Resolver
	engine    *query.Engine
	graphRepo graph.Repository
	vectors   vector.Store
	source    document.Source
	cache     *cache.Cache
	syncState ingestion.SyncStateStore
	logger    *slog.Logger
}

// NewServer は新しいServerを作成します
func NewServer(deps Deps) *Server {
	return &Server{
		registry:  deps.Registry,
		pipeline:  deps.Pipeline,
		resolver:  deps.Resolver,
		engine:    deps.Engine,
		graphRepo: deps.GraphRepo,
		vectors:   deps.Vectors,
		source:    deps.Source,
		cache:     deps.Cache,
		syncState: deps.SyncState,
		logger:    deps.Logger,
	}
}

// Handler はルーティング済みのハンドラを返します
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sync", s.handleSync)
	mux.HandleFunc("POST /reindex", s.handleReindex)
	mux.HandleFunc("POST /reindex/{id}", s.handleReindexDocument)
	mux.HandleFunc("POST /resolve-entities", s.handleResolveEntities)
	mux.HandleFunc("GET /task/{id}", s.handleTaskStatus)
	mux.HandleFunc("POST /task/{id}/cancel", s.handleTaskCancel)

	mux.HandleFunc("GET /graph/search", s.handleGraphSearch)
	mux.HandleFunc("GET /graph/node/{id}", s.handleGraphNode)
	mux.HandleFunc("GET /graph/neighbors/{id}", s.handleGraphNeighbors)
	mux.HandleFunc("GET /graph/initial", s.handleGraphInitial)

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /query/stream", s.handleQueryStream)

	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// startTask はタスクを開始し、task_idを返します
// 他の変更系タスクが実行中なら409を返します
func (s *Server) startTask(w http.ResponseWriter, kind task.Kind, runner task.Runner) {
	id, err := s.registry.Start(kind, runner)
	if err != nil {
		if errors.Is(err, task.ErrTaskConflict) {
			writeError(w, http.StatusConflict, "another task is already running")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id": id.String(),
		"status":  "started",
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.startTask(w, task.KindSync, func(ctx context.Context, progress *task.Progress) (any, error) {
		summary, err := s.pipeline.Sync(ctx, progress)
		if err != nil {
			return nil, err
		}
		s.cache.InvalidateAll()
		return summary, nil
	})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	s.startTask(w, task.KindReindex, func(ctx context.Context, progress *task.Progress) (any, error) {
		summary, err := s.pipeline.ReindexAll(ctx, progress)
		if err != nil {
			return nil, err
		}
		s.cache.InvalidateAll()
		return summary, nil
	})
}

func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	docID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	s.startTask(w, task.KindReindexDocument, func(ctx context.Context, progress *task.Progress) (any, error) {
		progress.SetTotal(1)
		outcome, err := s.pipeline.ReindexDocument(ctx, docID)
		if err != nil {
			return nil, err
		}
		progress.Record(outcome)
		s.cache.InvalidateAll()
		return outcome, nil
	})
}

func (s *Server) handleResolveEntities(w http.ResponseWriter, r *http.Request) {
	s.startTask(w, task.KindResolveEntities, func(ctx context.Context, progress *task.Progress) (any, error) {
		report, err := s.resolver.ResolveAll(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.InvalidateAll()
		return report, nil
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	snapshot, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleTaskCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	switch err := s.registry.Cancel(id); {
	case errors.Is(err, task.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, task.ErrTaskFinished):
		writeError(w, http.StatusConflict, "task already finished")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"task_id": id.String(), "status": "cancelling"})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.graphRepo.Counts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	stats, err := s.vectors.Stats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var lastSync *time.Time
	if opt, err := s.syncState.LastSync(ctx); err == nil {
		if t, ok := opt.Get(); ok {
			lastSync = &t
		}
	}

	active := make([]task.Snapshot, 0)
	for _, snapshot := range s.registry.List() {
		if !snapshot.Status.IsTerminal() {
			active = append(active, snapshot)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"graph":        counts,
		"embeddings":   stats,
		"last_sync":    lastSync,
		"active_tasks": active,
		"cache":        s.cache.Stats(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	components := map[string]string{}
	healthy := true

	check := func(name string, err error) {
		if err != nil {
			components[name] = "error: " + err.Error()
			healthy = false
		} else {
			components[name] = "ok"
		}
	}

	check("graph_store", s.graphRepo.Ping(ctx))
	check("vector_store", s.vectors.Ping(ctx))
	check("document_source", s.source.Ping(ctx))
	components["cache"] = "ok"

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

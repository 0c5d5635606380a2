package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/graph"
)

const (
	defaultSearchLimit   = 20
	defaultInitialLimit  = 50
	defaultNeighborDepth = 1
	maxNeighborDepth     = 3
	maxNeighborNodes     = 200
)

// nodeDTO はグラフノードのAPI表現
type nodeDTO struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

type edgeDTO struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Implied    bool    `json:"implied,omitempty"`
}

type relationshipDTO struct {
	Type       string  `json:"type"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Implied    bool    `json:"implied,omitempty"`
	Neighbor   nodeDTO `json:"neighbor"`
}

type subgraphDTO struct {
	Nodes []nodeDTO `json:"nodes"`
	Edges []edgeDTO `json:"edges"`
}

func toNodeDTO(n graph.Node) nodeDTO {
	return nodeDTO{
		ID:         n.ID.String(),
		Name:       n.Name,
		Type:       n.Type,
		Properties: n.Properties,
	}
}

func toSubgraphDTO(n graph.Neighborhood) subgraphDTO {
	out := subgraphDTO{
		Nodes: make([]nodeDTO, 0, len(n.Nodes)),
		Edges: make([]edgeDTO, 0, len(n.Edges)),
	}
	for _, node := range n.Nodes {
		out.Nodes = append(out.Nodes, toNodeDTO(node))
	}
	for _, edge := range n.Edges {
		out.Edges = append(out.Edges, edgeDTO{
			From:       edge.FromID.String(),
			To:         edge.ToID.String(),
			Type:       edge.Type,
			Confidence: edge.Confidence,
			Implied:    edge.Implied,
		})
	}
	return out
}

func (s *Server) handleGraphSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	nodeType := r.URL.Query().Get("type")
	limit := queryInt(r, "limit", defaultSearchLimit)

	nodes, err := s.graphRepo.SearchNodes(r.Context(), q, nodeType, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]nodeDTO, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeDTO(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) handleGraphNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	detail, err := s.graphRepo.GetNode(r.Context(), id)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rels := make([]relationshipDTO, 0, len(detail.Relationships))
	for _, rel := range detail.Relationships {
		rels = append(rels, relationshipDTO{
			Type:       rel.Type,
			Direction:  rel.Direction,
			Confidence: rel.Confidence,
			Implied:    rel.Implied,
			Neighbor:   toNodeDTO(rel.Neighbor),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"node":          toNodeDTO(detail.Node),
		"relationships": rels,
	})
}

func (s *Server) handleGraphNeighbors(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	depth := queryInt(r, "depth", defaultNeighborDepth)
	if depth < 1 {
		depth = 1
	}
	if depth > maxNeighborDepth {
		depth = maxNeighborDepth
	}

	neighborhood, err := s.graphRepo.Neighbors(r.Context(), id, depth, maxNeighborNodes)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSubgraphDTO(neighborhood))
}

func (s *Server) handleGraphInitial(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultInitialLimit)

	neighborhood, err := s.graphRepo.InitialGraph(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSubgraphDTO(neighborhood))
}

// queryInt はクエリパラメータを整数として読み、無効なら既定値を返します
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/retrievalflow/ingest"
	"github.com/BaSui01/retrievalflow/search"
	"github.com/BaSui01/retrievalflow/types"
)

// =============================================================================
// 🔍 查询 API
// =============================================================================

// handleSearch POST /v1/search
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req search.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "malformed JSON body")
		return
	}

	resp, err := s.engine.Search(r.Context(), &req)
	if err != nil {
		if types.IsCode(err, types.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "search failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// 📥 摄取 API
// =============================================================================

// ingestRequest 摄取请求体
type ingestRequest struct {
	Documents []ingest.Document `json:"documents"`
}

// handleIngest POST /v1/documents
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "malformed JSON body")
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "documents is required")
		return
	}

	result, err := s.ingestor.IngestDocuments(r.Context(), req.Documents)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(types.GetErrorCode(err)), "ingest failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteDocument DELETE /v1/documents/{id}
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use DELETE")
		return
	}

	documentID := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if documentID == "" || strings.Contains(documentID, "/") {
		writeError(w, http.StatusBadRequest, string(types.ErrInvalidRequest), "document id is required")
		return
	}

	deleted, err := s.ingestor.DeleteDocument(r.Context(), documentID)
	if err != nil {
		s.logger.Error("delete failed", zap.Error(err), zap.String("document_id", documentID))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "delete failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":    documentID,
		"chunks_deleted": deleted,
	})
}

// handleRebuild POST /v1/rebuild — 重建快照，物理清除墓碑
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	version, err := s.ingestor.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(types.GetErrorCode(err)), "rebuild failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"snapshot_version": version})
}

// =============================================================================
// 📊 状态 API
// =============================================================================

// handleStats GET /v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	snap := s.store.Current()
	stats := map[string]any{
		"snapshot_version": snap.Version(),
		"snapshot_created": snap.CreatedAt(),
		"chunks":           snap.Size(),
		"vectors":          snap.VectorSize(),
		"tombstones":       s.store.TombstoneCount(),
	}

	if s.meta != nil {
		if dbStats, err := s.meta.GetStats(r.Context()); err == nil {
			stats["total_chunks"] = dbStats.TotalChunks
			stats["total_documents"] = dbStats.TotalDocuments
			stats["latest_recorded_version"] = dbStats.LatestVersion
		} else {
			s.logger.Warn("failed to read metadata stats", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleHealth GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVersion GET /version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}

// =============================================================================
// 🔧 响应辅助
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

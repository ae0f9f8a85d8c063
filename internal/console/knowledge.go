// ABOUTME: HTTP handlers for knowledge base documents and test queries
// ABOUTME: Proxies to the knowledge client; 503 when no document service is configured

package console

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/coven-console/internal/knowledge"
)

// maxUploadBytes bounds document uploads
const maxUploadBytes = 32 << 20

// DeleteDocumentsRequest is the JSON body for DELETE /api/knowledge/documents.
type DeleteDocumentsRequest struct {
	KnowledgeBase string   `json:"knowledge_base,omitempty"`
	DocumentNames []string `json:"document_names"`
}

// QueryRequest is the JSON body for POST /api/knowledge/query.
type QueryRequest struct {
	Text string `json:"text"`
}

// QueryResponse is returned by POST /api/knowledge/query.
type QueryResponse struct {
	Answer     string `json:"answer"`
	Confidence string `json:"confidence"`
	Sources    string `json:"sources"`
	Display    string `json:"display"`
}

func (s *Server) requireKnowledge(w http.ResponseWriter) bool {
	if s.knowledge == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "knowledge base is not configured")
		return false
	}
	return true
}

// handleListDocuments handles GET /api/knowledge/documents?knowledge_base=.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}
	res, err := s.knowledge.List(r.Context(), r.URL.Query().Get("knowledge_base"))
	if err != nil {
		s.writeKnowledgeError(w, "list documents", err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleUploadDocument handles multipart POST /api/knowledge/documents with a
// "file" part and an optional "knowledge_base" field.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	res, err := s.knowledge.Upload(r.Context(), r.FormValue("knowledge_base"),
		header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		s.writeKnowledgeError(w, "upload document", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

// handleDeleteDocuments handles DELETE /api/knowledge/documents.
func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}

	var req DeleteDocumentsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.DocumentNames) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "document_names array is required")
		return
	}

	n, err := s.knowledge.Delete(r.Context(), req.KnowledgeBase, req.DocumentNames)
	if err != nil {
		s.writeKnowledgeError(w, "delete documents", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"deleted_count": n})
}

// handleKnowledgeQuery handles POST /api/knowledge/query.
func (s *Server) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	if !s.requireKnowledge(w) {
		return
	}

	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.sendJSONError(w, http.StatusBadRequest, "text is required")
		return
	}

	ans, err := s.knowledge.Query(r.Context(), req.Text)
	if err != nil {
		s.writeKnowledgeError(w, "knowledge query", err)
		return
	}
	s.writeJSON(w, http.StatusOK, QueryResponse{
		Answer:     ans.Answer,
		Confidence: ans.Confidence,
		Sources:    ans.Sources,
		Display:    ans.String(),
	})
}

// writeKnowledgeError maps knowledge client errors to HTTP statuses. Upstream
// status errors keep their status code.
func (s *Server) writeKnowledgeError(w http.ResponseWriter, op string, err error) {
	var se *knowledge.StatusError
	switch {
	case errors.Is(err, knowledge.ErrUnsupportedFileType),
		errors.Is(err, knowledge.ErrNoKnowledgeBase):
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrQueryFailed):
		s.sendJSONError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &se):
		s.sendJSONError(w, se.StatusCode, se.Error())
	default:
		s.logger.Error("knowledge request failed", "op", op, "error", err)
		s.sendJSONError(w, http.StatusBadGateway, err.Error())
	}
}

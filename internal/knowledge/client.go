// ABOUTME: HTTP client for the document-management service behind the knowledge agent
// ABOUTME: Lists, uploads and deletes knowledge base documents and runs test queries

package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-console/internal/agent"
	"github.com/2389/coven-console/internal/reply"
)

// ErrUnsupportedFileType is returned by Upload for content types other than PDF, DOCX and TXT.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// ErrNoKnowledgeBase is returned when neither the call nor the config names a knowledge base.
var ErrNoKnowledgeBase = errors.New("knowledge base id is required")

// ErrQueryFailed is returned by Query when the knowledge agent call fails.
var ErrQueryFailed = errors.New("knowledge query failed")

// Notices attached to degraded list results
const (
	NoticeUnavailable = "Knowledge base service temporarily unavailable. Documents will appear when service recovers."
	NoticeUpstreamErr = "Knowledge base service is temporarily experiencing issues. Your documents are safe."
)

// Training parameters sent with every upload
const (
	dataParser   = "llmsherpa"
	chunkSize    = "1000"
	chunkOverlap = "100"
)

// File types understood by the training endpoint
const (
	TypePDF     = "pdf"
	TypeDOCX    = "docx"
	TypeTXT     = "txt"
	TypeUnknown = "unknown"
)

var contentTypes = map[string]string{
	"application/pdf": TypePDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": TypeDOCX,
	"text/plain": TypeTXT,
}

// FileTypeFor maps a MIME content type to a training file type.
func FileTypeFor(contentType string) (string, error) {
	mediaType, _, _ := strings.Cut(contentType, ";")
	if t, ok := contentTypes[strings.TrimSpace(strings.ToLower(mediaType))]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %s. Supported: PDF, DOCX, TXT", ErrUnsupportedFileType, contentType)
}

// Document is one file in a knowledge base.
type Document struct {
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
	Status   string `json:"status"`
}

// ListResult is the document listing of a knowledge base. Notice is set when
// the listing degraded to empty because the service misbehaved.
type ListResult struct {
	KnowledgeBase string     `json:"knowledge_base"`
	Documents     []Document `json:"documents"`
	Notice        string     `json:"notice,omitempty"`
}

// UploadResult describes a trained upload.
type UploadResult struct {
	KnowledgeBase string `json:"knowledge_base"`
	FileName      string `json:"file_name"`
	FileType      string `json:"file_type"`
	DocumentCount int    `json:"document_count"`
}

// StatusError is an unexpected status from the document service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to %s: %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	// RagID is used when a call does not name a knowledge base
	RagID   string
	Timeout time.Duration
}

// Client talks to the document service and the knowledge agent.
type Client struct {
	baseURL string
	apiKey  string
	ragID   string
	client  *http.Client
	invoker agent.Invoker
	agentID string
	logger  *slog.Logger

	listGroup singleflight.Group
}

// NewClient creates a knowledge client. Query calls go through invoker to the
// knowledge agent persona identified by agentID.
func NewClient(cfg Config, invoker agent.Invoker, agentID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		ragID:   cfg.RagID,
		client:  &http.Client{Timeout: cfg.Timeout},
		invoker: invoker,
		agentID: agentID,
		logger:  logger.With("component", "knowledge"),
	}
}

// DefaultKnowledgeBase returns the configured knowledge base id.
func (c *Client) DefaultKnowledgeBase() string { return c.ragID }

func (c *Client) resolve(kbID string) (string, error) {
	if kbID = strings.TrimSpace(kbID); kbID != "" {
		return kbID, nil
	}
	if c.ragID != "" {
		return c.ragID, nil
	}
	return "", ErrNoKnowledgeBase
}

// List returns the documents of a knowledge base. A missing knowledge base,
// a server error, a network error or an undecodable body all yield an empty
// listing rather than an error; other statuses are returned as *StatusError.
// Concurrent listings of the same knowledge base share one upstream call.
func (c *Client) List(ctx context.Context, kbID string) (*ListResult, error) {
	kbID, err := c.resolve(kbID)
	if err != nil {
		return nil, err
	}

	// The shared call must not die with whichever caller started it.
	v, err, _ := c.listGroup.Do(kbID, func() (any, error) {
		return c.fetchList(context.WithoutCancel(ctx), kbID)
	})
	if err != nil {
		return nil, err
	}
	shared := v.(*ListResult)
	result := *shared
	result.Documents = append([]Document{}, shared.Documents...)
	return &result, nil
}

func (c *Client) fetchList(ctx context.Context, kbID string) (*ListResult, error) {
	result := &ListResult{KnowledgeBase: kbID, Documents: []Document{}}

	endpoint := fmt.Sprintf("%s/rag/documents/%s/", c.baseURL, url.PathEscape(kbID))
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("document listing unreachable", "knowledge_base", kbID, "error", err)
		result.Notice = NoticeUnavailable
		return result, nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return result, nil
	case resp.StatusCode >= 500:
		c.logger.Warn("document listing failed upstream", "knowledge_base", kbID, "status", resp.StatusCode)
		result.Notice = NoticeUpstreamErr
		return result, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &StatusError{Op: "get documents", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Debug("undecodable document listing", "knowledge_base", kbID, "error", err)
		return result, nil
	}
	for _, entry := range documentEntries(body) {
		result.Documents = append(result.Documents, documentFrom(entry))
	}
	return result, nil
}

// documentEntries accepts a bare array or an object wrapping one under
// documents, data or files.
func documentEntries(body any) []any {
	switch v := body.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range []string{"documents", "data", "files"} {
			if list, ok := v[key].([]any); ok {
				return list
			}
		}
	}
	return nil
}

func documentFrom(entry any) Document {
	var p string
	switch v := entry.(type) {
	case string:
		p = v
	case map[string]any:
		if name, ok := v["name"]; ok {
			p = fmt.Sprint(name)
		} else {
			p = fmt.Sprint(v)
		}
	default:
		p = fmt.Sprint(v)
	}

	name := path.Base(p)
	if name == "." || name == "/" || strings.HasSuffix(p, "/") {
		name = p
	}
	return Document{
		FileName: name,
		FileType: typeFromName(name),
		Status:   "active",
	}
}

func typeFromName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	switch ext {
	case TypePDF, TypeDOCX, TypeTXT:
		return ext
	}
	return TypeUnknown
}

// Upload sends a file to the training endpoint of a knowledge base.
func (c *Client) Upload(ctx context.Context, kbID, fileName, contentType string, r io.Reader) (*UploadResult, error) {
	kbID, err := c.resolve(kbID)
	if err != nil {
		return nil, err
	}
	fileType, err := FileTypeFor(contentType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	for _, field := range [][2]string{
		{"data_parser", dataParser},
		{"chunk_size", chunkSize},
		{"chunk_overlap", chunkOverlap},
		{"extra_info", "{}"},
	} {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("writing form field %s: %w", field[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/train/%s/?rag_id=%s", c.baseURL, fileType, url.QueryEscape(kbID))
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Op: "train document", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	var trained struct {
		DocumentCount int `json:"document_count"`
		Chunks        int `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&trained); err != nil {
		return nil, fmt.Errorf("decoding training response: %w", err)
	}
	count := trained.DocumentCount
	if count == 0 {
		count = trained.Chunks
	}
	if count == 0 {
		count = 1
	}

	c.logger.Info("document trained",
		"knowledge_base", kbID,
		"file_name", fileName,
		"file_type", fileType,
		"document_count", count)

	return &UploadResult{
		KnowledgeBase: kbID,
		FileName:      fileName,
		FileType:      fileType,
		DocumentCount: count,
	}, nil
}

// Delete removes documents by name and returns how many were requested.
func (c *Client) Delete(ctx context.Context, kbID string, names []string) (int, error) {
	kbID, err := c.resolve(kbID)
	if err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, errors.New("document names are required")
	}

	body, err := json.Marshal(names)
	if err != nil {
		return 0, fmt.Errorf("marshaling document names: %w", err)
	}

	endpoint := fmt.Sprintf("%s/rag/%s/docs/", c.baseURL, url.PathEscape(kbID))
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{Op: "delete documents", StatusCode: resp.StatusCode, Body: readBody(resp.Body)}
	}

	c.logger.Info("documents deleted", "knowledge_base", kbID, "count", len(names))
	return len(names), nil
}

// Query asks the knowledge agent a question and normalizes its answer.
func (c *Client) Query(ctx context.Context, text string) (reply.Answer, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return reply.Answer{}, errors.New("query text is empty")
	}
	if c.invoker == nil || c.agentID == "" {
		return reply.Answer{}, fmt.Errorf("%w: no knowledge agent configured", ErrQueryFailed)
	}

	res := c.invoker.Invoke(ctx, text, c.agentID, agent.SessionContext{SessionID: agent.NewSessionID(c.agentID)})
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "Failed to get answer"
		}
		return reply.Answer{}, fmt.Errorf("%w: %s", ErrQueryFailed, msg)
	}
	return reply.NormalizeAnswer(res.Response), nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	return req, nil
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return "could not read error response"
	}
	return strings.TrimSpace(string(data))
}

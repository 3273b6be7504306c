package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/offline"
)

// Server implements offline.Recognizer against a whisper-server instance,
// which exposes POST /inference.
type Server struct {
	serverURL  string
	language   string
	model      string
	httpClient *http.Client
}

// ServerOption is a functional option for configuring a Server backend.
type ServerOption func(*Server)

// WithServerLanguage sets the language hint sent with each request.
// Defaults to "en".
func WithServerLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// WithModel sets the model name sent with each request. Leave empty to use
// whatever model the server was started with.
func WithModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = c }
}

// NewServer returns a backend posting to serverURL, e.g.
// "http://localhost:8080".
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Transcribe implements offline.Recognizer. The segment is uploaded as a
// 16-bit WAV file in a multipart form.
func (s *Server) Transcribe(ctx context.Context, samples []float32, sampleRate int) (offline.Transcript, error) {
	if sampleRate != 16000 {
		return offline.Transcript{}, fmt.Errorf("%w: got %d", ErrUnsupportedRate, sampleRate)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if err := audio.WriteWAV(fw, samples, sampleRate); err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if s.language != "" {
		if err := mw.WriteField("language", s.language); err != nil {
			return offline.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if s.model != "" {
		if err := mw.WriteField("model", s.model); err != nil {
			return offline.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", &body)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return offline.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}
	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return offline.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return offline.Transcript{Text: strings.TrimSpace(result.Text)}, nil
}

var _ offline.Recognizer = (*Server)(nil)

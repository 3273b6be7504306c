package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/streamasr/internal/observe"
	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// Segment is one transcribed speech segment of an upload.
type Segment struct {
	Start      float32   `json:"start"`
	Duration   float32   `json:"duration"`
	Text       string    `json:"text"`
	Tokens     []string  `json:"tokens,omitempty"`
	Timestamps []float32 `json:"timestamps,omitempty"`
}

// TranscribeResponse is the body returned by POST /v1/transcribe.
type TranscribeResponse struct {
	ID       string    `json:"id"`
	Duration float32   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// handleTranscribe cuts an uploaded WAV file into speech segments and
// transcribes each with the offline recognizer.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		httpError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	wave, err := audio.ReadWAV(bytes.NewReader(body))
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	ctx, span := observe.StartTranscribeSpan(r.Context(), id, s.offlineName, float64(wave.Duration()))
	defer span.End()
	log := observe.Logger(ctx).With("request", id, "backend", s.offlineName)

	det, err := s.newDetector()
	if err != nil {
		observe.Fail(span, err)
		log.Error("vad init failed", "err", err)
		httpError(w, http.StatusInternalServerError, "vad unavailable")
		return
	}
	defer det.Close()

	start := time.Now()
	results, err := offline.TranscribeWave(ctx, s.offline, det, wave, offline.PipelineConfig{})
	if err != nil {
		observe.Fail(span, err)
		log.Error("transcription failed", "err", err)
		httpError(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	s.metrics.RecordOffline(ctx, s.offlineName, time.Since(start))
	s.metrics.VADSegments.Add(ctx, int64(len(results)))

	resp := TranscribeResponse{ID: id, Duration: wave.Duration(), Segments: make([]Segment, 0, len(results))}
	for _, res := range results {
		resp.Segments = append(resp.Segments, Segment{
			Start:      res.Start,
			Duration:   res.Duration,
			Text:       res.Text,
			Tokens:     res.Tokens,
			Timestamps: res.Timestamps,
		})
		s.storeFinal(ctx, sink.FromOffline(id, res), len(res.Tokens))
	}
	log.Info("transcribed upload", "audio_seconds", wave.Duration(), "segments", len(results), "elapsed", time.Since(start))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) newDetector() (*vad.Detector, error) {
	sess, err := s.vadEngine.NewSession(s.vadConfig)
	if err != nil {
		return nil, err
	}
	det, err := vad.NewDetector(sess, s.vadConfig)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return det, nil
}

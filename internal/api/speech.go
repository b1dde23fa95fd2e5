package api

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// maxAudioUpload bounds STT uploads.
const maxAudioUpload = 25 << 20

// Synthesizer renders text as MP3 audio. Implemented by speech.Service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber converts an audio upload to text. Implemented by
// speech.Service.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.synthesizer == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}

	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Text string `json:"text"`
		}
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "%v", err)
			return
		}
		text = req.Text
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form: %v", err)
			return
		}
		text = r.FormValue("text")
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, err := s.synthesizer.Synthesize(r.Context(), text)
	if err != nil {
		writeError(w, http.StatusBadGateway, "synthesis failed: %v", err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		s.logger.Warn("write audio failed", "error", err)
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		writeError(w, http.StatusServiceUnavailable, "speech transcription is not configured")
		return
	}
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, "multipart form required: %v", err)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required: %v", err)
		return
	}
	defer file.Close()

	text, err := s.transcriber.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadGateway, "transcription failed: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// Package speech provides text-to-speech and speech-to-text over the
// OpenAI audio endpoints. The client is built lazily from the configured
// API key and can be invalidated when that key changes.
package speech

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// maxTextLength bounds synthesis input; longer text is clipped.
const maxTextLength = 4096

// Service implements api.Synthesizer and api.Transcriber.
type Service struct {
	mu     sync.Mutex
	apiKey string
	voice  openai.SpeechVoice
	client *openai.Client

	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithVoice overrides the synthesis voice.
func WithVoice(voice string) Option {
	return func(s *Service) {
		if voice != "" {
			s.voice = openai.SpeechVoice(voice)
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a speech service. An empty key is allowed; calls fail until
// Invalidate supplies one.
func New(apiKey string, opts ...Option) *Service {
	s := &Service{
		apiKey: apiKey,
		voice:  openai.VoiceAlloy,
		logger: slog.Default().With("component", "speech"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate replaces the API key and drops the cached client so the next
// call rebuilds it. Called when the config layer reloads.
func (s *Service) Invalidate(apiKey string) {
	s.mu.Lock()
	s.apiKey = apiKey
	s.client = nil
	s.mu.Unlock()
}

func (s *Service) getClient() (*openai.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	if strings.TrimSpace(s.apiKey) == "" {
		return nil, fmt.Errorf("speech: no API key configured")
	}
	s.client = openai.NewClient(s.apiKey)
	return s.client, nil
}

// Synthesize renders text as MP3 audio.
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, err
	}
	if len(text) > maxTextLength {
		text = text[:maxTextLength]
	}
	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	s.logger.Debug("synthesized audio", "chars", len(text), "bytes", len(audio))
	return audio, nil
}

// Transcribe converts uploaded audio to text with Whisper. The filename's
// extension tells the API the container format.
func (s *Service) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	client, err := s.getClient()
	if err != nil {
		return "", err
	}
	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("speech transcription: %w", err)
	}
	return resp.Text, nil
}

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/camara-coder/talking-game/internal/audio"
	"github.com/camara-coder/talking-game/internal/metrics"
)

// Transcriber produces transcriptions from audio samples.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, language string) (*STTResult, error)
}

// STTResult holds the transcription output.
type STTResult struct {
	Text      string  `json:"text"`
	LatencyMs float64 `json:"latency_ms"`
}

// STTRouter dispatches to the correct speech-to-text backend by engine name.
type STTRouter struct {
	*Router[Transcriber]
}

// NewSTTRouter creates a router with registered STT backends and a fallback default.
func NewSTTRouter(backends map[string]Transcriber, fallback string) *STTRouter {
	return &STTRouter{Router: NewRouter(backends, fallback)}
}

// Transcribe routes to the correct backend and transcribes the audio.
func (r *STTRouter) Transcribe(ctx context.Context, samples []float32, language, engine string) (*STTResult, error) {
	backend, err := r.Route(engine)
	if err != nil {
		return nil, err
	}
	return backend.Transcribe(ctx, samples, language)
}

// MultipartSTTClient sends audio as multipart WAV to any whisper-compatible
// HTTP endpoint. Backends only vary by endpoint path; the label field is used
// in error messages and logs.
type MultipartSTTClient struct {
	url        string
	endpoint   string
	label      string
	sampleRate int
	client     *http.Client
}

// NewWhisperClient creates a client for whisper.cpp (/inference endpoint).
func NewWhisperClient(url string, sampleRate, poolSize int) *MultipartSTTClient {
	return &MultipartSTTClient{
		url:        url,
		endpoint:   "/inference",
		label:      "whisper",
		sampleRate: sampleRate,
		client:     NewPooledHTTPClient(poolSize, 30*time.Second),
	}
}

// Warmup sends a tiny silent clip to verify the server is responsive.
func (c *MultipartSTTClient) Warmup(ctx context.Context) error {
	silence := make([]float32, c.sampleRate) // 1 second of silence
	body, contentType, err := buildMultipartAudio(silence, c.sampleRate, "")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return fmt.Errorf("create warmup request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s warmup: %w", c.label, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s warmup status %d", c.label, resp.StatusCode)
	}
	return nil
}

// Transcribe sends float32 audio samples as multipart WAV and returns the transcript.
func (c *MultipartSTTClient) Transcribe(ctx context.Context, samples []float32, language string) (*STTResult, error) {
	start := time.Now()

	body, contentType, err := buildMultipartAudio(samples, c.sampleRate, language)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.label, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("stt", "http").Inc()
		return nil, fmt.Errorf("%s request: %w", c.label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("stt", "status").Inc()
		return nil, fmt.Errorf("%s status %d: %s", c.label, resp.StatusCode, string(respBody))
	}

	var result whisperResponse
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.label, err)
	}

	latency := time.Since(start)
	metrics.StageDuration.WithLabelValues("stt").Observe(latency.Seconds())

	return &STTResult{
		Text:      result.Text,
		LatencyMs: float64(latency.Milliseconds()),
	}, nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

func buildMultipartAudio(samples []float32, sampleRate int, language string) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if language != "" {
		if err = writer.WriteField("language", language); err != nil {
			return nil, "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

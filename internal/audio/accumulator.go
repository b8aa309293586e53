package audio

// BytesPerSample is fixed by the input encoding (16-bit mono PCM).
const BytesPerSample = 2

// CaptureConfig is the client-supplied configuration sent with audio.start.
// Known fields are typed; everything else rides along in Extra.
type CaptureConfig struct {
	SampleRate int            `json:"sample_rate,omitempty"`
	Extra      map[string]any `json:"-"`
}

// CaptureConfigFromMap builds a CaptureConfig from a raw client config map.
func CaptureConfigFromMap(m map[string]any) CaptureConfig {
	cfg := CaptureConfig{Extra: make(map[string]any)}
	for k, v := range m {
		if k == "sample_rate" {
			if f, ok := v.(float64); ok {
				cfg.SampleRate = int(f)
				continue
			}
		}
		cfg.Extra[k] = v
	}
	return cfg
}

// Accumulator collects the audio chunks of one turn in arrival order. It is
// owned by exactly one session for the lifetime of one turn and must be
// accessed under the owner's lock; it performs no locking of its own.
type Accumulator struct {
	chunks     [][]byte
	totalBytes int
	config     CaptureConfig
	sealed     bool
}

// NewAccumulator creates an empty accumulator for one turn.
func NewAccumulator(cfg CaptureConfig) *Accumulator {
	return &Accumulator{config: cfg}
}

// Append adds a chunk. Chunks arriving after Seal are silently dropped so
// late data cannot corrupt an already-dispatched buffer.
func (a *Accumulator) Append(chunk []byte) {
	if a.sealed || len(chunk) == 0 {
		return
	}
	a.chunks = append(a.chunks, chunk)
	a.totalBytes += len(chunk)
}

// Seal freezes the accumulator; subsequent appends are no-ops.
func (a *Accumulator) Seal() {
	a.sealed = true
}

// Bytes returns all buffered audio concatenated in arrival order. Repeated
// calls return identical bytes while no appends occur. An empty buffer yields
// an empty slice, never an error.
func (a *Accumulator) Bytes() []byte {
	out := make([]byte, 0, a.totalBytes)
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	return out
}

// Prefix returns the first maxSamples samples of buffered audio, or the full
// buffer if it is shorter. maxSamples <= 0 yields an empty slice.
func (a *Accumulator) Prefix(maxSamples int) []byte {
	if maxSamples <= 0 {
		return []byte{}
	}
	limit := maxSamples * BytesPerSample
	if limit >= a.totalBytes {
		return a.Bytes()
	}

	out := make([]byte, 0, limit)
	for _, c := range a.chunks {
		remaining := limit - len(out)
		if remaining <= 0 {
			break
		}
		if len(c) > remaining {
			c = c[:remaining]
		}
		out = append(out, c...)
	}
	return out
}

// TotalBytes returns the running byte count.
func (a *Accumulator) TotalBytes() int {
	return a.totalBytes
}

// Config returns the client capture configuration.
func (a *Accumulator) Config() CaptureConfig {
	return a.config
}

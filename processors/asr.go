package processors

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voiceMemo/config"
	"voiceMemo/core"
	"voiceMemo/storage"
)

// TranscribeOptions are the recognition options sent with each request.
type TranscribeOptions struct {
	LanguageCode               string `json:"language_code"`
	SampleRateHertz            int    `json:"sample_rate_hertz"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation"`
	MaxAlternatives            int    `json:"max_alternatives"`
	ProfanityFilter            bool   `json:"profanity_filter"`
	Model                      string `json:"model"`
}

// DefaultTranscribeOptions returns the options used when the caller sends none.
func DefaultTranscribeOptions(cfg *config.Config) TranscribeOptions {
	return TranscribeOptions{
		LanguageCode:               cfg.SpeechLanguage,
		EnableAutomaticPunctuation: true,
		Model:                      cfg.SpeechModel,
	}
}

// Transcriber converts an audio payload to text. An empty or whitespace-only
// transcript is always reported as an error, never as an empty success.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*core.TranscriptionResult, error)
}

// ---------------- Mock ----------------

type MockTranscriber struct{}

func (m MockTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no speech recognized: empty audio payload")
	}
	return &core.TranscriptionResult{
		Transcript: fmt.Sprintf("내일 오후 3시에 강남역에서 회의 (%d bytes placeholder)", len(audio)),
		Confidence: 0.5,
	}, nil
}

// ---------------- Whisper (synchronous API) ----------------

type WhisperTranscriber struct {
	cli     *openai.Client
	model   string
	timeout time.Duration
}

func NewWhisperTranscriber(cfg *config.Config) *WhisperTranscriber {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &WhisperTranscriber{
		cli:     openai.NewClientWithConfig(oc),
		model:   cfg.WhisperModel,
		timeout: time.Duration(cfg.TranscribeTimeout) * time.Second,
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	format := DetectAudioFormat(audio)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported audio container")
	}
	if format.NeedsTranscode() {
		wav, err := TranscodeToWAV(audio)
		if err != nil {
			return nil, fmt.Errorf("transcode %s audio: %w", format, err)
		}
		audio = wav
		format = FormatWAV
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio" + format.Extension(),
		Language: shortLanguage(opts.LanguageCode),
	})
	if err != nil {
		return nil, fmt.Errorf("transcription API failed: %v", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("no speech recognized")
	}
	// Whisper reports no per-result confidence.
	return &core.TranscriptionResult{Transcript: text, Confidence: 0.9}, nil
}

// shortLanguage turns a BCP-47 code like ko-KR into whisper's ko.
func shortLanguage(code string) string {
	if i := strings.IndexByte(code, '-'); i > 0 {
		return code[:i]
	}
	return code
}

// ---------------- Google Cloud Speech (sync + long-running) ----------------

// GoogleSpeechTranscriber uses the synchronous recognize operation for short
// payloads and long-running recognition against a temporary blob for payloads
// at or above the size threshold, since the recognizer caps its sync path.
type GoogleSpeechTranscriber struct {
	client     *speech.Client
	blobs      storage.BlobStore
	syncLimit  int64
	maxRetries int
}

func NewGoogleSpeechTranscriber(ctx context.Context, cfg *config.Config, blobs storage.BlobStore) (*GoogleSpeechTranscriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &GoogleSpeechTranscriber{
		client:     client,
		blobs:      blobs,
		syncLimit:  cfg.SyncSizeLimit,
		maxRetries: 3,
	}, nil
}

func (g *GoogleSpeechTranscriber) Close() error {
	return g.client.Close()
}

func (g *GoogleSpeechTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	format := DetectAudioFormat(audio)
	if format == FormatUnknown {
		return nil, fmt.Errorf("unsupported audio container")
	}
	if format.NeedsTranscode() {
		wav, err := TranscodeToWAV(audio)
		if err != nil {
			return nil, fmt.Errorf("transcode %s audio: %w", format, err)
		}
		audio = wav
		format = FormatWAV
	}

	if int64(len(audio)) < g.syncLimit {
		return g.recognizeSync(ctx, audio, format, opts)
	}
	return g.recognizeLongRunning(ctx, audio, format, opts)
}

// candidateConfig is one (encoding, sample rate) pair to try against the
// synchronous recognizer. Candidates are ordered; the first response with at
// least one result wins.
type candidateConfig struct {
	encoding   speechpb.RecognitionConfig_AudioEncoding
	sampleRate int
}

func candidateConfigs(format AudioFormat, opts TranscribeOptions) []candidateConfig {
	if opts.SampleRateHertz > 0 {
		return []candidateConfig{{encodingFor(format), opts.SampleRateHertz}}
	}
	switch format {
	case FormatWebM:
		return []candidateConfig{{speechpb.RecognitionConfig_WEBM_OPUS, 48000}, {speechpb.RecognitionConfig_WEBM_OPUS, 16000}}
	case FormatOgg:
		return []candidateConfig{{speechpb.RecognitionConfig_OGG_OPUS, 48000}, {speechpb.RecognitionConfig_OGG_OPUS, 16000}}
	case FormatWAV:
		// WAV headers carry the rate; unspecified lets the service read it.
		return []candidateConfig{{speechpb.RecognitionConfig_LINEAR16, 16000}, {speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0}}
	case FormatMP3:
		return []candidateConfig{{speechpb.RecognitionConfig_MP3, 44100}, {speechpb.RecognitionConfig_MP3, 16000}}
	case FormatFLAC:
		return []candidateConfig{{speechpb.RecognitionConfig_FLAC, 0}}
	default:
		return []candidateConfig{{speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, 0}}
	}
}

func encodingFor(format AudioFormat) speechpb.RecognitionConfig_AudioEncoding {
	switch format {
	case FormatWebM:
		return speechpb.RecognitionConfig_WEBM_OPUS
	case FormatOgg:
		return speechpb.RecognitionConfig_OGG_OPUS
	case FormatWAV:
		return speechpb.RecognitionConfig_LINEAR16
	case FormatMP3:
		return speechpb.RecognitionConfig_MP3
	case FormatFLAC:
		return speechpb.RecognitionConfig_FLAC
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func buildRecognitionConfig(c candidateConfig, opts TranscribeOptions) *speechpb.RecognitionConfig {
	lang := opts.LanguageCode
	if lang == "" {
		lang = "ko-KR"
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   c.encoding,
		SampleRateHertz:            int32(c.sampleRate),
		LanguageCode:               lang,
		Model:                      opts.Model,
		EnableAutomaticPunctuation: opts.EnableAutomaticPunctuation,
		MaxAlternatives:            int32(opts.MaxAlternatives),
		ProfanityFilter:            opts.ProfanityFilter,
	}
}

func (g *GoogleSpeechTranscriber) recognizeSync(ctx context.Context, audio []byte, format AudioFormat, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var lastErr error
	for _, c := range candidateConfigs(format, opts) {
		req := &speechpb.RecognizeRequest{
			Config: buildRecognitionConfig(c, opts),
			Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
		}
		resp, err := g.retrySync(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Results) == 0 {
			lastErr = fmt.Errorf("no speech recognized (encoding %s, %d Hz)", c.encoding, c.sampleRate)
			continue
		}
		return parseRecognizeResults(resp.Results)
	}
	return nil, lastErr
}

func (g *GoogleSpeechTranscriber) recognizeLongRunning(ctx context.Context, audio []byte, format AudioFormat, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	up, err := g.blobs.Upload(ctx, "tmp-asr", audio, core.NewID()+format.Extension())
	if err != nil {
		return nil, fmt.Errorf("upload temp audio for long-running recognition: %w", err)
	}
	// Cleanup is best-effort: a leaked temp blob never fails the run.
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.blobs.Delete(dctx, up.FullPath); err != nil {
			log.Printf("Warning: failed to delete temp recognition blob %s: %v", up.FullPath, err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	c := candidateConfigs(format, opts)[0]
	req := &speechpb.LongRunningRecognizeRequest{
		Config: buildRecognitionConfig(c, opts),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: g.blobs.URI(up.FullPath)}},
	}

	op, err := g.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("long-running recognize: %w", err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("long-running recognize wait: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no speech recognized")
	}
	return parseRecognizeResults(resp.Results)
}

// parseRecognizeResults takes the first result's first alternative. Empty
// transcript text is a hard failure at every parsing stage.
func parseRecognizeResults(results []*speechpb.SpeechRecognitionResult) (*core.TranscriptionResult, error) {
	for _, r := range results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		return &core.TranscriptionResult{Transcript: text, Confidence: float64(alt.Confidence)}, nil
	}
	return nil, fmt.Errorf("no speech recognized")
}

func (g *GoogleSpeechTranscriber) retrySync(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	backoff := 500 * time.Millisecond
	var last error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := g.client.Recognize(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == g.maxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return nil, last
}

// PickTranscriber selects the provider from the ASR env var.
func PickTranscriber(cfg *config.Config, blobs storage.BlobStore) Transcriber {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ASR"))) {
	case "mock":
		return MockTranscriber{}
	case "google":
		t, err := NewGoogleSpeechTranscriber(context.Background(), cfg, blobs)
		if err != nil {
			log.Printf("Warning: Google Speech unavailable (%v), falling back to mock transcriber", err)
			return MockTranscriber{}
		}
		return t
	}
	if !cfg.HasValidAPI() {
		log.Println("Warning: API configuration not found, using mock transcriber")
		return MockTranscriber{}
	}
	return NewWhisperTranscriber(cfg)
}

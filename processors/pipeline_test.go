package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voiceMemo/core"
	"voiceMemo/storage"
)

// wavBytes is a minimal RIFF/WAVE header, enough for format sniffing.
func wavBytes() []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVE"), make([]byte, 16)...)
}

type fakeBlobStore struct {
	blobs      map[string][]byte
	uploadErr  error
	downloaded int
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (f *fakeBlobStore) Upload(ctx context.Context, ownerID string, data []byte, filename string) (*storage.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	path := fmt.Sprintf("audio/%s/%s", ownerID, filename)
	f.blobs[path] = data
	return &storage.UploadResult{DownloadURL: "https://example.com/" + path, FullPath: path, Size: int64(len(data))}, nil
}

func (f *fakeBlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	f.downloaded++
	data, ok := f.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob not found: %s", path)
	}
	return data, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, path string) error {
	delete(f.blobs, path)
	return nil
}

func (f *fakeBlobStore) URI(path string) string         { return "fake://" + path }
func (f *fakeBlobStore) Ping(ctx context.Context) error { return nil }

type fakeTranscriber struct {
	transcript string
	err        error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*core.TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &core.TranscriptionResult{Transcript: f.transcript, Confidence: 0.9}, nil
}

type fakeAnalyzer struct {
	result *core.AnalysisResult
	err    error
}

func (f fakeAnalyzer) Analyze(ctx context.Context, text string) (*core.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type failingMemoStore struct {
	storage.MemoStore
}

func (failingMemoStore) Create(ctx context.Context, memo *core.VoiceMemo) (string, error) {
	return "", errors.New("database down")
}

func testPipeline(blobs storage.BlobStore, tr Transcriber, an CategoryAnalyzer, memos storage.MemoStore) *Pipeline {
	return &Pipeline{Blobs: blobs, Transcriber: tr, Analyzer: an, Memos: memos}
}

func shoppingAnalysis() *core.AnalysisResult {
	cats := []core.CategorySummary{{
		Category:    core.CategoryShopping,
		SummaryList: []string{"우유", "계란"},
		Keywords:    []string{"우유", "계란"},
	}}
	return buildAnalysisResult(cats)
}

func TestPipelineStateOrder(t *testing.T) {
	blobs := newFakeBlobStore()
	memos := storage.NewMemoryMemoStore()
	p := testPipeline(blobs, fakeTranscriber{transcript: "우유 사기"}, fakeAnalyzer{result: shoppingAnalysis()}, memos)

	var seen []core.PipelineState
	p.StateListener = func(s core.PipelineState) { seen = append(seen, s) }

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []core.PipelineState{
		core.StateUpload,
		core.StateSpeechToText,
		core.StateTextAnalysis,
		core.StateClassification,
		core.StateSummaryGeneration,
		core.StateSaving,
		core.StateCompleted,
	}
	if len(seen) != len(want) {
		t.Fatalf("Expected %d state transitions, got %d: %v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if out.State != core.StateCompleted {
		t.Errorf("Expected completed state, got %s", out.State)
	}
	if out.Result == nil || out.Result.MemoID == "" {
		t.Fatal("Expected a persisted memo id")
	}
	if out.Result.Ephemeral {
		t.Error("Expected a durable result")
	}
	if blobs.downloaded == 0 {
		t.Error("Expected transcription to read the stored audio back")
	}
}

func TestPipelinePersistsMemo(t *testing.T) {
	memos := storage.NewMemoryMemoStore()
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "우유 사기"}, fakeAnalyzer{result: shoppingAnalysis()}, memos)

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav", Duration: 4.2})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	memo, err := memos.Get(context.Background(), out.Result.MemoID)
	if err != nil {
		t.Fatalf("Memo not found: %v", err)
	}
	if memo.Category != core.CategoryShopping {
		t.Errorf("Expected 쇼핑리스트, got %s", memo.Category)
	}
	if memo.Transcription != "우유 사기" {
		t.Errorf("Unexpected transcription %q", memo.Transcription)
	}
	if memo.AudioURL == "" {
		t.Error("Expected audio URL on the memo")
	}
	if memo.Summary != "우유|계란" {
		t.Errorf("Expected flattened summary, got %q", memo.Summary)
	}
}

func TestPipelineRejectsEmptyAudio(t *testing.T) {
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "x"}, fakeAnalyzer{result: shoppingAnalysis()}, storage.NewMemoryMemoStore())

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: nil, Filename: "a.wav"})
	if err == nil {
		t.Fatal("Expected error for empty audio")
	}
	if out.State != core.StateError {
		t.Errorf("Expected error state, got %s", out.State)
	}
}

func TestPipelineRejectsUnknownFormat(t *testing.T) {
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "x"}, fakeAnalyzer{result: shoppingAnalysis()}, storage.NewMemoryMemoStore())

	_, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: []byte("not audio at all"), Filename: "a.txt"})
	if err == nil {
		t.Fatal("Expected error for unknown format")
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestPipelineEmptyTranscriptIsFatal(t *testing.T) {
	memos := storage.NewMemoryMemoStore()
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "   "}, fakeAnalyzer{result: shoppingAnalysis()}, memos)

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav"})
	if err == nil {
		t.Fatal("Expected error for empty transcript")
	}
	if out.State != core.StateError {
		t.Errorf("Expected error state, got %s", out.State)
	}
	if !strings.Contains(err.Error(), "no speech detected") {
		t.Errorf("Unexpected error: %v", err)
	}

	saved, _ := memos.Query(context.Background(), storage.MemoQuery{UserID: "u1"})
	if len(saved) != 0 {
		t.Errorf("Expected nothing persisted, got %d memos", len(saved))
	}
}

func TestPipelineAnalysisFailureDegradesToFallback(t *testing.T) {
	memos := storage.NewMemoryMemoStore()
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "우유 사기"}, fakeAnalyzer{err: errors.New("model unavailable")}, memos)

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav"})
	if err != nil {
		t.Fatalf("Expected run to complete despite analysis failure, got %v", err)
	}
	if out.State != core.StateCompleted {
		t.Errorf("Expected completed state, got %s", out.State)
	}
	if out.Result.Category != core.CategoryOther {
		t.Errorf("Expected 기타 fallback, got %s", out.Result.Category)
	}
	if len(out.Warnings) == 0 {
		t.Error("Expected a warning about the degraded analysis")
	}

	saved, _ := memos.Query(context.Background(), storage.MemoQuery{UserID: "u1"})
	if len(saved) != 1 {
		t.Fatalf("Expected fallback memo persisted, got %d", len(saved))
	}
	if saved[0].Category != core.CategoryOther {
		t.Errorf("Expected persisted 기타, got %s", saved[0].Category)
	}
}

func TestPipelineSaveFailureYieldsEphemeralResult(t *testing.T) {
	p := testPipeline(newFakeBlobStore(), fakeTranscriber{transcript: "우유 사기"}, fakeAnalyzer{result: shoppingAnalysis()}, failingMemoStore{})

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav"})
	if err != nil {
		t.Fatalf("Expected run to complete despite save failure, got %v", err)
	}
	if out.State != core.StateCompleted {
		t.Errorf("Expected completed state, got %s", out.State)
	}
	if !out.Result.Ephemeral {
		t.Error("Expected ephemeral result")
	}
	if !strings.HasPrefix(out.Result.MemoID, "temp_") {
		t.Errorf("Expected temp_ id, got %q", out.Result.MemoID)
	}
	if out.Result.Transcript != "우유 사기" {
		t.Errorf("Expected transcript preserved, got %q", out.Result.Transcript)
	}
	if len(out.Warnings) == 0 {
		t.Error("Expected a warning about the ephemeral result")
	}
}

func TestPipelineUploadFailureIsFatal(t *testing.T) {
	blobs := newFakeBlobStore()
	blobs.uploadErr = errors.New("bucket unreachable")
	p := testPipeline(blobs, fakeTranscriber{transcript: "x"}, fakeAnalyzer{result: shoppingAnalysis()}, storage.NewMemoryMemoStore())

	out, err := p.Run(context.Background(), RunInput{UserID: "u1", Audio: wavBytes(), Filename: "a.wav"})
	if err == nil {
		t.Fatal("Expected error for upload failure")
	}
	if out.State != core.StateError {
		t.Errorf("Expected error state, got %s", out.State)
	}
	if len(out.Steps) == 0 || out.Steps[len(out.Steps)-1].Status != core.StepFailed {
		t.Error("Expected a failed step in the log")
	}
}

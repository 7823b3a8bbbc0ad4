package processors

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"voiceMemo/core"
	"voiceMemo/storage"
)

// Pipeline runs the fixed audio-to-memo sequence:
// upload → speech-to-text → text-analysis → category-classification →
// summary-generation → saving → completed. Steps never reorder or skip;
// a fatal failure halts the run, the degrade classes substitute fallbacks
// and continue.
type Pipeline struct {
	Blobs       storage.BlobStore
	Transcriber Transcriber
	Analyzer    CategoryAnalyzer
	Memos       storage.MemoStore
	Vectors     storage.VectorStore // optional; search index only
	Jobs        *core.JobRegistry   // optional; concurrency guard

	Options TranscribeOptions

	// StateListener observes every state transition, in order. Used by the
	// progress UI and by tests.
	StateListener func(core.PipelineState)
}

// RunInput is one audio submission.
type RunInput struct {
	UserID   string
	Audio    []byte
	Filename string
	Duration float64
}

// RunOutput carries the step log and, on success, the terminal result.
type RunOutput struct {
	JobID    string               `json:"job_id"`
	State    core.PipelineState   `json:"state"`
	Steps    []core.Step          `json:"steps"`
	Warnings []string             `json:"warnings,omitempty"`
	Result   *core.PipelineResult `json:"result,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func (p *Pipeline) setState(out *RunOutput, state core.PipelineState) {
	out.State = state
	if p.Jobs != nil {
		p.Jobs.SetStep(out.JobID, state)
	}
	if p.StateListener != nil {
		p.StateListener(state)
	}
}

func (p *Pipeline) fail(out *RunOutput, stepErr *core.StepError) (*RunOutput, error) {
	out.Steps = append(out.Steps, core.Step{Name: string(stepErr.State), Status: core.StepFailed, Error: stepErr.Error()})
	out.State = core.StateError
	out.Error = stepErr.Error()
	return out, stepErr
}

// Run executes one pipeline run. The returned RunOutput is non-nil even on
// failure so callers always get the step log.
func (p *Pipeline) Run(ctx context.Context, in RunInput) (*RunOutput, error) {
	start := time.Now()
	out := &RunOutput{JobID: core.NewID()}

	if p.Jobs != nil {
		if err := p.Jobs.Acquire(out.JobID, in.UserID); err != nil {
			return p.fail(out, core.NewFatal(core.StateUpload, "pipeline busy", err))
		}
		defer func() { p.Jobs.Release(out.JobID, out.State == core.StateCompleted) }()
	}

	if len(in.Audio) == 0 {
		return p.fail(out, core.NewFatal(core.StateUpload, "empty audio payload", nil))
	}
	if in.UserID == "" {
		return p.fail(out, core.NewFatal(core.StateUpload, "user id is required", nil))
	}
	if DetectAudioFormat(in.Audio) == FormatUnknown {
		return p.fail(out, core.NewFatal(core.StateUpload, "unsupported file type", nil))
	}

	// Step 1: upload. Fatal on failure: without stored audio there is no
	// transcript, and failure diagnostics reference the stored URL.
	p.setState(out, core.StateUpload)
	up, err := p.Blobs.Upload(ctx, in.UserID, in.Audio, in.Filename)
	if err != nil {
		return p.fail(out, core.NewFatal(core.StateUpload, "storage unreachable", err))
	}
	out.Steps = append(out.Steps, core.Step{Name: string(core.StateUpload), Status: core.StepCompleted})
	log.Printf("Audio uploaded for user %s: %s (%d bytes)", in.UserID, up.FullPath, up.Size)

	// Step 2: speech-to-text, on the audio fetched back from storage.
	// Fatal on failure: nothing meaningful exists to persist without text.
	p.setState(out, core.StateSpeechToText)
	stored, err := p.Blobs.Download(ctx, up.FullPath)
	if err != nil {
		return p.fail(out, core.NewFatal(core.StateSpeechToText, "fetch stored audio", err))
	}
	tr, err := p.Transcriber.Transcribe(ctx, stored, p.Options)
	if err != nil {
		return p.fail(out, core.NewFatal(core.StateSpeechToText, "transcription failed", err))
	}
	if strings.TrimSpace(tr.Transcript) == "" {
		return p.fail(out, core.NewFatal(core.StateSpeechToText, "no speech detected", nil))
	}
	out.Steps = append(out.Steps, core.Step{Name: string(core.StateSpeechToText), Status: core.StepCompleted})

	// Steps 3-5: one analysis round trip covers text-analysis,
	// category-classification and summary-generation. Unlike transcription,
	// a failure here degrades to the deterministic fallback: the raw
	// transcript still makes a useful memo.
	p.setState(out, core.StateTextAnalysis)
	analysis, err := p.Analyzer.Analyze(ctx, tr.Transcript)
	if err != nil {
		log.Printf("Warning: category analysis failed for job %s: %v", out.JobID, err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("Category analysis failed, using defaults: %v", err))
		analysis = FallbackAnalysis(tr.Transcript)
		out.Steps = append(out.Steps, core.Step{Name: string(core.StateTextAnalysis), Status: core.StepFailed, Error: err.Error()})
	} else {
		out.Steps = append(out.Steps, core.Step{Name: string(core.StateTextAnalysis), Status: core.StepCompleted})
	}
	p.setState(out, core.StateClassification)
	out.Steps = append(out.Steps, core.Step{Name: string(core.StateClassification), Status: core.StepCompleted})
	p.setState(out, core.StateSummaryGeneration)
	out.Steps = append(out.Steps, core.Step{Name: string(core.StateSummaryGeneration), Status: core.StepCompleted})

	// Step 6: saving. A persistence failure degrades to an ephemeral result
	// with a session-local id; the spoken content is already in memory and
	// must not be lost to a durability problem.
	p.setState(out, core.StateSaving)
	memo := &core.VoiceMemo{
		UserID:        in.UserID,
		AudioURL:      up.DownloadURL,
		Duration:      in.Duration,
		Transcription: tr.Transcript,
		Summary:       analysis.Summary,
		Category:      analysis.Category,
		AllCategories: analysis.AllCategories,
		Tags:          analysis.Keywords,
	}
	ephemeral := false
	memoID, err := p.Memos.Create(ctx, memo)
	if err != nil {
		log.Printf("Warning: failed to persist memo for job %s: %v", out.JobID, err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("Memo not persisted, returning ephemeral result: %v", err))
		memoID = "temp_" + uuid.NewString()
		memo.CreatedAt = time.Now()
		ephemeral = true
		out.Steps = append(out.Steps, core.Step{Name: string(core.StateSaving), Status: core.StepFailed, Error: err.Error()})
	} else {
		out.Steps = append(out.Steps, core.Step{Name: string(core.StateSaving), Status: core.StepCompleted})
		if p.Vectors != nil {
			if err := p.Vectors.Upsert(ctx, memo); err != nil {
				log.Printf("Warning: vector index update failed for memo %s: %v", memoID, err)
			}
		}
	}

	p.setState(out, core.StateCompleted)
	out.Result = &core.PipelineResult{
		MemoID:        memoID,
		Ephemeral:     ephemeral,
		Transcript:    tr.Transcript,
		Confidence:    analysis.Confidence,
		Category:      analysis.Category,
		AllCategories: analysis.AllCategories,
		Summary:       analysis.Summary,
		Keywords:      analysis.Keywords,
		Sentiment:     analysis.Sentiment,
		Entities:      analysis.Entities,
		AudioURL:      up.DownloadURL,
		StoragePath:   up.FullPath,
		Duration:      in.Duration,
		ProcessingMS:  time.Since(start).Milliseconds(),
		CreatedAt:     memo.CreatedAt,
	}
	log.Printf("Pipeline completed for job %s in %dms (category %s)", out.JobID, out.Result.ProcessingMS, analysis.Category)
	return out, nil
}

package processors

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"voiceMemo/core"
)

// AudioFormat is the container detected from a payload's magic bytes.
type AudioFormat string

const (
	FormatWebM    AudioFormat = "webm"
	FormatOgg     AudioFormat = "ogg"
	FormatWAV     AudioFormat = "wav"
	FormatMP3     AudioFormat = "mp3"
	FormatFLAC    AudioFormat = "flac"
	FormatM4A     AudioFormat = "m4a"
	FormatUnknown AudioFormat = "unknown"
)

// DetectAudioFormat sniffs the container from leading magic bytes.
func DetectAudioFormat(data []byte) AudioFormat {
	if len(data) < 12 {
		return FormatUnknown
	}
	switch {
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}): // EBML
		return FormatWebM
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.Equal(data[4:8], []byte("ftyp")): // MPEG-4 box
		return FormatM4A
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case data[0] == 0xFF && data[1]&0xE0 == 0xE0: // MPEG frame sync
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// NeedsTranscode reports whether the recognizer cannot accept the container
// directly. M4A/MP4 audio must be re-encoded before submission.
func (f AudioFormat) NeedsTranscode() bool {
	return f == FormatM4A
}

// Extension returns the filename extension for the format.
func (f AudioFormat) Extension() string {
	switch f {
	case FormatWebM:
		return ".webm"
	case FormatOgg:
		return ".ogg"
	case FormatWAV:
		return ".wav"
	case FormatMP3:
		return ".mp3"
	case FormatFLAC:
		return ".flac"
	case FormatM4A:
		return ".m4a"
	default:
		return ".bin"
	}
}

// TranscodeToWAV re-encodes audio to 16 kHz mono PCM WAV via ffmpeg. The
// short-audio recognition path hard-depends on this for M4A input: a missing
// or failing ffmpeg is an error, never a silent skip.
func TranscodeToWAV(data []byte) ([]byte, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("audio transcode requires ffmpeg: %w", err)
	}

	// ffmpeg cannot seek stdin for MP4 boxes, so go through temp files.
	in, err := os.CreateTemp("", "memoaudio-in-*.m4a")
	if err != nil {
		return nil, fmt.Errorf("create temp input: %w", err)
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(data); err != nil {
		in.Close()
		return nil, fmt.Errorf("write temp input: %w", err)
	}
	in.Close()

	outPath := filepath.Join(os.TempDir(), "memoaudio-out-"+core.NewID()[:8]+".wav")
	defer os.Remove(outPath)

	cmd := exec.Command("ffmpeg", "-y", "-i", in.Name(),
		"-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", outPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg transcode failed: %v (%s)", err, firstLine(stderr.String()))
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("read transcoded audio: %w", err)
	}
	return out, nil
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package processors

import "testing"

func TestDetectAudioFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want AudioFormat
	}{
		{"wav", append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 8)...), FormatWAV},
		{"mp3 id3", append([]byte("ID3\x03"), make([]byte, 12)...), FormatMP3},
		{"mp3 sync", append([]byte{0xFF, 0xFB}, make([]byte, 14)...), FormatMP3},
		{"m4a", append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("ftypM4A \x00\x00\x00\x00")...), FormatM4A},
		{"flac", append([]byte("fLaC"), make([]byte, 12)...), FormatFLAC},
		{"ogg", append([]byte("OggS"), make([]byte, 12)...), FormatOgg},
		{"webm", append([]byte{0x1A, 0x45, 0xDF, 0xA3}, make([]byte, 12)...), FormatWebM},
		{"unknown", []byte("plain text, not audio"), FormatUnknown},
		{"too short", []byte{0x52}, FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, c := range cases {
		if got := DetectAudioFormat(c.data); got != c.want {
			t.Errorf("%s: expected %s, got %s", c.name, c.want, got)
		}
	}
}

func TestNeedsTranscode(t *testing.T) {
	if !FormatM4A.NeedsTranscode() {
		t.Error("Expected m4a to require transcoding")
	}
	for _, f := range []AudioFormat{FormatWAV, FormatMP3, FormatFLAC, FormatOgg, FormatWebM} {
		if f.NeedsTranscode() {
			t.Errorf("Expected %s to be usable directly", f)
		}
	}
}

func TestExtension(t *testing.T) {
	cases := map[AudioFormat]string{
		FormatWAV:     ".wav",
		FormatMP3:     ".mp3",
		FormatM4A:     ".m4a",
		FormatFLAC:    ".flac",
		FormatOgg:     ".ogg",
		FormatWebM:    ".webm",
		FormatUnknown: ".bin",
	}
	for f, want := range cases {
		if got := f.Extension(); got != want {
			t.Errorf("%s: expected %s, got %s", f, want, got)
		}
	}
}

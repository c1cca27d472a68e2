package media

import (
	"fmt"
	"image"
	"strings"
)

// FileType names a container format.
type FileType string

const (
	FileTypeRaw       FileType = "mwraw"
	FileTypeMP4       FileType = "mp4"
	FileTypeQuickTime FileType = "mov"
	FileTypeMatroska  FileType = "mkv"
)

// Extension returns the conventional file extension including the dot.
func (f FileType) Extension() string {
	return "." + string(f)
}

// ParseFileType accepts a file type name or an extension (".mp4").
func ParseFileType(s string) (FileType, error) {
	switch ft := FileType(strings.TrimPrefix(strings.ToLower(s), ".")); ft {
	case FileTypeRaw, FileTypeMP4, FileTypeQuickTime, FileTypeMatroska:
		return ft, nil
	case "quicktime":
		return FileTypeQuickTime, nil
	case "matroska":
		return FileTypeMatroska, nil
	}
	return "", fmt.Errorf("unknown file type %q", s)
}

// VideoSettings configures the video track encoder.
type VideoSettings struct {
	Codec     string
	Width     int
	Height    int
	BitRate   int
	FrameRate float64
}

// DefaultVideoSettings returns H.264 settings for size.
func DefaultVideoSettings(size image.Point) *VideoSettings {
	return &VideoSettings{
		Codec:     "h264",
		Width:     size.X,
		Height:    size.Y,
		BitRate:   size.X * size.Y * 4,
		FrameRate: 30,
	}
}

// Validate checks that the settings describe an encodable stream.
func (v *VideoSettings) Validate() error {
	if v.Codec == "" {
		return fmt.Errorf("video codec is empty")
	}
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("video size %dx%d is not positive", v.Width, v.Height)
	}
	if v.Width%2 != 0 || v.Height%2 != 0 {
		return fmt.Errorf("video size %dx%d must be even", v.Width, v.Height)
	}
	return nil
}

// AudioSettings configures the audio track encoder.
type AudioSettings struct {
	Codec      string
	SampleRate int
	Channels   int
	BitRate    int
}

// DefaultAudioSettings returns mono 48 kHz AAC settings.
func DefaultAudioSettings() *AudioSettings {
	return &AudioSettings{
		Codec:      "aac",
		SampleRate: 48000,
		Channels:   1,
		BitRate:    64000,
	}
}

// Validate checks that the settings describe an encodable stream.
func (a *AudioSettings) Validate() error {
	if a.Codec == "" {
		return fmt.Errorf("audio codec is empty")
	}
	if a.SampleRate <= 0 {
		return fmt.Errorf("audio sample rate %d is not positive", a.SampleRate)
	}
	if a.Channels < 1 || a.Channels > 8 {
		return fmt.Errorf("audio channel count %d out of range", a.Channels)
	}
	return nil
}

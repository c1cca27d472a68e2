// Package gstwriter muxes movie-writer sessions into MP4, QuickTime and
// Matroska files through a GStreamer pipeline.
//
// Each track input feeds an appsrc element:
//
//	video: appsrc → videoconvert → x264enc → h264parse → taginject ┐
//	audio: appsrc → audioconvert → audioresample → aac encoder ─────┼→ mux → filesink
//
// Pre-encoded video skips the convert and encode stages. The writer itself
// needs the "gst" build tag and the GStreamer development libraries; the
// helpers in this file are plain Go.
package gstwriter

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
)

// muxerFor returns the GStreamer muxer factory for fileType.
func muxerFor(fileType media.FileType) (string, error) {
	switch fileType {
	case media.FileTypeMP4:
		return "mp4mux", nil
	case media.FileTypeQuickTime:
		return "qtmux", nil
	case media.FileTypeMatroska:
		return "matroskamux", nil
	}
	return "", media.NewWriterError(media.CodeUnsupportedFileType, "create session",
		fmt.Errorf("gstwriter cannot mux %q", fileType))
}

// codecElements names the encoder candidates and parser for a codec, in
// preference order.
type codecElements struct {
	encoders []string
	parser   string
	caps     string
}

var videoCodecs = map[string]codecElements{
	"h264": {encoders: []string{"x264enc", "openh264enc"}, parser: "h264parse",
		caps: "video/x-h264,stream-format=byte-stream,alignment=au"},
	"hevc": {encoders: []string{"x265enc"}, parser: "h265parse",
		caps: "video/x-h265,stream-format=byte-stream,alignment=au"},
}

var audioCodecs = map[string]codecElements{
	"aac":  {encoders: []string{"avenc_aac", "fdkaacenc", "voaacenc"}, parser: "aacparse"},
	"opus": {encoders: []string{"opusenc"}, parser: "opusparse"},
}

func videoCodec(name string) (codecElements, error) {
	name = strings.ToLower(name)
	if name == "h265" {
		name = "hevc"
	}
	c, ok := videoCodecs[name]
	if !ok {
		return c, media.NewWriterError(media.CodeEncoderNotFound, "add video input", fmt.Errorf("codec %q", name))
	}
	return c, nil
}

func audioCodec(name string) (codecElements, error) {
	c, ok := audioCodecs[strings.ToLower(name)]
	if !ok {
		return c, media.NewWriterError(media.CodeEncoderNotFound, "add audio input", fmt.Errorf("codec %q", name))
	}
	return c, nil
}

// framerate renders fps as a caps fraction.
func framerate(fps float64) string {
	if fps <= 0 {
		return "0/1"
	}
	if fps == math.Trunc(fps) {
		return fmt.Sprintf("%d/1", int(fps))
	}
	return fmt.Sprintf("%d/1000", int(math.Round(fps*1000)))
}

func rawVideoCaps(v *media.VideoSettings, format media.PixelFormat) string {
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%s",
		format, v.Width, v.Height, framerate(v.FrameRate))
}

func rawAudioCaps(a *media.AudioSettings) string {
	return fmt.Sprintf("audio/x-raw,format=S16LE,layout=interleaved,rate=%d,channels=%d",
		a.SampleRate, a.Channels)
}

// orientation maps a track transform to the image-orientation tag value,
// snapping to the nearest quarter turn.
func orientation(t gpu.AffineTransform) string {
	if t.IsIdentity() || (t.A == 0 && t.B == 0) {
		return ""
	}
	deg := math.Atan2(t.B, t.A) * 180 / math.Pi
	quarter := (int(math.Round(deg/90))%4 + 4) % 4
	if quarter == 0 {
		return ""
	}
	return fmt.Sprintf("rotate-%d", quarter*90)
}

var knownTags = map[string]string{
	"title":       "title",
	"artist":      "artist",
	"album":       "album",
	"comment":     "comment",
	"description": "description",
	"copyright":   "copyright",
	"keywords":    "keywords",
	"encoder":     "encoder",
	"date":        "datetime",
	"creator":     "artist",
}

// tagString renders metadata in the taginject "tags" property syntax. Keys
// GStreamer has no tag for are folded into the comment.
func tagString(items []media.MetadataItem, orient string) string {
	tags := make(map[string]string)
	var extra []string
	for _, it := range items {
		if name, ok := knownTags[strings.ToLower(it.Key)]; ok {
			tags[name] = it.Value
			continue
		}
		extra = append(extra, it.Key+"="+it.Value)
	}
	if len(extra) > 0 {
		if c := tags["comment"]; c != "" {
			extra = append([]string{c}, extra...)
		}
		tags["comment"] = strings.Join(extra, "; ")
	}
	if orient != "" {
		tags["image-orientation"] = orient
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, tags[name]))
	}
	return strings.Join(parts, ",")
}

// s16le packs interleaved samples for an S16LE appsrc.
func s16le(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// packed returns buf's pixels without row padding.
func packed(buf *media.PixelBuffer) []byte {
	row := buf.Width * 4
	if buf.Stride == row {
		return buf.Data[:row*buf.Height]
	}
	out := make([]byte, row*buf.Height)
	for y := 0; y < buf.Height; y++ {
		copy(out[y*row:(y+1)*row], buf.Data[y*buf.Stride:])
	}
	return out
}

// classify maps a GStreamer error message to a writer error code.
func classify(msg string) media.ErrorCode {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "no space left"), strings.Contains(m, "disk full"):
		return media.CodeDiskFull
	case strings.Contains(m, "not-negotiated"), strings.Contains(m, "negotiat"), strings.Contains(m, "caps"):
		return media.CodeInvalidSourceMedia
	case strings.Contains(m, "no element"), strings.Contains(m, "missing plugin"), strings.Contains(m, "encoder"):
		return media.CodeEncoderNotFound
	case strings.Contains(m, "out of memory"), strings.Contains(m, "allocate"):
		return media.CodeOutOfMemory
	}
	return media.CodeWriteFailed
}

// Package rawfile is a pure-Go container writer for the media session
// contract. It muxes uncompressed video, PCM audio and pre-encoded video
// access units into a simple interleaved file:
//
//	magic  "MWRAW1\n"
//	header one JSON line (Header)
//	record { track u8, kind u8, pts i64, duration i64, size u32, payload }...
//	trailer record with track 0xFF whose payload is JSON (Trailer)
//
// Multi-byte integers are big-endian. Samples are written by a muxer
// goroutine; each track input buffers a bounded number of samples and
// reports itself not ready while its buffer is full.
package rawfile

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Swind/go-movie-writer/gpu"
	"github.com/Swind/go-movie-writer/media"
)

const magic = "MWRAW1\n"

const trailerTrack = 0xFF

// Record kinds.
const (
	KindPixels  uint8 = 0
	KindPCM     uint8 = 1
	KindEncoded uint8 = 2
)

// Header describes the file, written once when the session starts writing.
type Header struct {
	SessionID string               `json:"session_id"`
	FileType  media.FileType       `json:"file_type"`
	CreatedAt time.Time            `json:"created_at"`
	Tracks    []TrackHeader        `json:"tracks"`
	Metadata  []media.MetadataItem `json:"metadata,omitempty"`
}

// TrackHeader describes one track.
type TrackHeader struct {
	ID              int                  `json:"id"`
	Type            string               `json:"type"`
	Video           *media.VideoSettings `json:"video,omitempty"`
	Audio           *media.AudioSettings `json:"audio,omitempty"`
	Transform       gpu.AffineTransform  `json:"transform"`
	ExpectsRealTime bool                 `json:"expects_real_time"`
}

// Trailer closes the file.
type Trailer struct {
	StartTime time.Duration `json:"start_time"`
	Samples   []int         `json:"samples"`
	Duration  time.Duration `json:"duration"`
}

// Record is one decoded sample.
type Record struct {
	Track    int
	Kind     uint8
	PTS      time.Duration
	Duration time.Duration
	Payload  []byte
}

// File is a fully decoded rawfile.
type File struct {
	Header  Header
	Records []Record
	Trailer Trailer
}

// SamplesFor returns the records of track id in file order.
func (f *File) SamplesFor(id int) []Record {
	var out []Record
	for _, r := range f.Records {
		if r.Track == id {
			out = append(out, r)
		}
	}
	return out
}

// ErrTruncated is returned by Read when the trailer is missing.
var ErrTruncated = errors.New("rawfile: missing trailer")

func writeHeader(w *bufio.Writer, h Header) error {
	if _, err := w.WriteString(magic); err != nil {
		return err
	}
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

func writeRecord(w *bufio.Writer, track int, kind uint8, pts, dur time.Duration, payload []byte) error {
	var hdr [1 + 1 + 8 + 8 + 4]byte
	hdr[0] = uint8(track)
	hdr[1] = kind
	binary.BigEndian.PutUint64(hdr[2:10], uint64(pts))
	binary.BigEndian.PutUint64(hdr[10:18], uint64(dur))
	binary.BigEndian.PutUint32(hdr[18:22], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFile decodes the file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a rawfile stream.
func Read(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)
	m := make([]byte, len(magic))
	if _, err := io.ReadFull(br, m); err != nil {
		return nil, fmt.Errorf("rawfile: read magic: %w", err)
	}
	if string(m) != magic {
		return nil, fmt.Errorf("rawfile: bad magic %q", m)
	}
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("rawfile: read header: %w", err)
	}
	out := &File{}
	if err := json.Unmarshal(line, &out.Header); err != nil {
		return nil, fmt.Errorf("rawfile: decode header: %w", err)
	}

	var hdr [22]byte
	for {
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, ErrTruncated
			}
			return out, fmt.Errorf("rawfile: read record: %w", err)
		}
		payload := make([]byte, binary.BigEndian.Uint32(hdr[18:22]))
		if _, err := io.ReadFull(br, payload); err != nil {
			return out, fmt.Errorf("rawfile: read payload: %w", err)
		}
		if hdr[0] == trailerTrack {
			if err := json.Unmarshal(payload, &out.Trailer); err != nil {
				return out, fmt.Errorf("rawfile: decode trailer: %w", err)
			}
			return out, nil
		}
		out.Records = append(out.Records, Record{
			Track:    int(hdr[0]),
			Kind:     hdr[1],
			PTS:      time.Duration(binary.BigEndian.Uint64(hdr[2:10])),
			Duration: time.Duration(binary.BigEndian.Uint64(hdr[10:18])),
			Payload:  payload,
		})
	}
}

func pcmBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func pixelBytes(buf *media.PixelBuffer) []byte {
	row := buf.Width * 4
	if buf.Stride == row {
		return buf.Data[:row*buf.Height]
	}
	out := make([]byte, 0, row*buf.Height)
	for y := 0; y < buf.Height; y++ {
		out = append(out, buf.Data[y*buf.Stride:y*buf.Stride+row]...)
	}
	return out
}

package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrInvalidWAV = errors.New("invalid wav stream")

// Clip is mono PCM16LE audio produced by a synthesizer.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// Duration reports the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// EncodeWAV wraps the clip in a WAV container.
func (c Clip) EncodeWAV() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.WriteWAV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAV writes the clip to out as a 44-byte-header WAV stream.
func (c Clip) WriteWAV(out io.Writer) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	sampleRate := c.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(c.PCM))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)
	fields := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(audioFormat), uint16(numChannels),
		uint32(sampleRate), byteRate, blockAlign, uint16(bitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	if _, err := w.Write(c.PCM); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAV reads a mono or multi-channel PCM16 WAV stream and keeps only the
// first channel. Unknown chunks are skipped.
func DecodeWAV(r io.Reader) (Clip, error) {
	br := bufio.NewReader(r)
	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var (
		channels   uint16
		sampleRate uint32
		bits       uint16
		haveFmt    bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return Clip{}, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(br, body); err != nil || size < 16 {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return Clip{}, fmt.Errorf("%w: unsupported format %d", ErrInvalidWAV, format)
			}
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			if !haveFmt || bits != 16 || channels == 0 {
				return Clip{}, fmt.Errorf("%w: data before valid fmt", ErrInvalidWAV)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(br, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			data = data[:n]
			return Clip{PCM: firstChannel(data, int(channels)), SampleRate: int(sampleRate)}, nil
		default:
			if _, err := br.Discard(int(size + size%2)); err != nil {
				return Clip{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
		}
	}
}

func firstChannel(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm[:len(pcm)-len(pcm)%2]
	}
	frame := channels * 2
	out := make([]byte, 0, len(pcm)/channels)
	for i := 0; i+frame <= len(pcm); i += frame {
		out = append(out, pcm[i], pcm[i+1])
	}
	return out
}

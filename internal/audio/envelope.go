package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Envelope returns one RMS magnitude per slice of the clip, normalized to
// [0, 1]. A trailing partial slice is included.
func Envelope(c Clip, slice time.Duration) []float64 {
	if c.SampleRate <= 0 || slice <= 0 || len(c.PCM) < 2 {
		return nil
	}
	per := int(int64(c.SampleRate) * int64(slice) / int64(time.Second))
	if per < 1 {
		per = 1
	}

	samples := len(c.PCM) / 2
	out := make([]float64, 0, (samples+per-1)/per)
	for start := 0; start < samples; start += per {
		end := min(start+per, samples)
		var sum float64
		for i := start; i < end; i++ {
			v := float64(int16(binary.LittleEndian.Uint16(c.PCM[i*2:]))) / 32768
			sum += v * v
		}
		out = append(out, math.Min(1, math.Sqrt(sum/float64(end-start))))
	}
	return out
}

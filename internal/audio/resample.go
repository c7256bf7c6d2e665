package audio

import "encoding/binary"

// linearResampler converts interleaved stereo float64 samples from a
// source rate to CanonicalSampleRate by linear interpolation. This
// deliberately trades quality for simplicity, with no
// polyphase filtering, since the recording path favors low latency over
// audiophile fidelity.
type linearResampler struct {
	srcRate, dstRate int
	channels         int

	// carry holds the last frame of the previous call. Output positions
	// past a packet's final frame repeat that frame; they are not
	// interpolated toward the next packet's first frame.
	carry     []float64
	hasCarry  bool
	fracPos   float64
}

func newLinearResampler(srcRate, dstRate, channels int) *linearResampler {
	if srcRate <= 0 {
		srcRate = CanonicalSampleRate
	}
	if channels <= 0 {
		channels = CanonicalChannels
	}
	return &linearResampler{srcRate: srcRate, dstRate: dstRate, channels: channels}
}

// resample takes interleaved stereo float64 input (already downmixed to
// CanonicalChannels by decodeNative) and returns interleaved int16 LE
// bytes at dstRate.
func (r *linearResampler) resample(in []float64) []byte {
	if len(in) == 0 {
		return nil
	}
	if r.srcRate == r.dstRate {
		return encodeInt16LE(in)
	}

	frames := len(in) / CanonicalChannels
	ratio := float64(r.srcRate) / float64(r.dstRate)

	get := func(frame int, ch int) float64 {
		if frame < 0 {
			if r.hasCarry {
				return r.carry[ch]
			}
			return in[ch]
		}
		if frame >= frames {
			frame = frames - 1
		}
		return in[frame*CanonicalChannels+ch]
	}

	var out []float64
	pos := r.fracPos
	for {
		srcIdx := pos
		i0 := int(srcIdx)
		if i0 >= frames {
			break
		}
		frac := srcIdx - float64(i0)
		for ch := 0; ch < CanonicalChannels; ch++ {
			a := get(i0, ch)
			b := get(i0+1, ch)
			out = append(out, a+(b-a)*frac)
		}
		pos += ratio
	}
	r.fracPos = pos - float64(frames)
	if r.fracPos < 0 {
		r.fracPos = 0
	}

	if frames > 0 {
		r.carry = []float64{in[(frames-1)*CanonicalChannels], in[(frames-1)*CanonicalChannels+1]}
		r.hasCarry = true
	}

	return encodeInt16LE(out)
}

func encodeInt16LE(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

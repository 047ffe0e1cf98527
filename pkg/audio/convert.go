package audio

// NormalizedAudio is a canonical PCM buffer: mono, 16-bit little-endian, at
// TargetSampleRate. It is never mutated after creation.
type NormalizedAudio struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	PCM           []byte
}

// Normalize parses a RIFF/WAVE container, validates its format, and converts
// the samples to the canonical analyzer format: downmix to mono first, then
// resample to TargetSampleRate. All rejections are *FormatError values.
func Normalize(wav []byte) (NormalizedAudio, error) {
	format, err := ParseFormat(wav)
	if err != nil {
		return NormalizedAudio{}, err
	}
	pcm, err := ExtractSamples(wav)
	if err != nil {
		return NormalizedAudio{}, err
	}

	if format.Channels == 2 {
		pcm = DownmixStereo(pcm)
	}
	pcm = ResampleNearest(pcm, format.SampleRate, TargetSampleRate)

	return NormalizedAudio{
		SampleRate:    TargetSampleRate,
		Channels:      TargetChannels,
		BitsPerSample: TargetBitDepth,
		PCM:           pcm,
	}, nil
}

// DownmixStereo averages L+R per stereo frame (4 bytes) to produce mono
// output. Each output sample is the rounded average of the two inputs; int32
// arithmetic prevents overflow and the result is clamped to int16 range.
func DownmixStereo(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)

		// Arithmetic shift is floor division, so (sum+1)>>1 rounds halves up
		// for both signs.
		avg := (l + r + 1) >> 1

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleNearest resamples 16-bit mono PCM from fromRate to toRate by
// nearest-neighbour selection: output sample i copies the source sample at
// floor(i × fromRate/toRate). When fromRate == toRate the input is returned
// unchanged, byte-identical.
//
// No band-limiting filter is applied, so downsampling aliases high
// frequencies. The remote analyzer has tolerated this since the first
// deployment; do not silently upgrade to an interpolating resampler without
// re-validating analyzer output.
func ResampleNearest(pcm []byte, fromRate, toRate int) []byte {
	if fromRate <= 0 || toRate <= 0 {
		return pcm
	}
	if fromRate == toRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(toRate) / int64(fromRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	for i := range dstSamples {
		srcIdx := int(int64(i) * int64(fromRate) / int64(toRate))
		if srcIdx >= srcSamples {
			srcIdx = srcSamples - 1
		}
		out[i*2] = pcm[srcIdx*2]
		out[i*2+1] = pcm[srcIdx*2+1]
	}
	return out
}

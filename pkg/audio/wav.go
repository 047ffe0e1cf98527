// Package audio parses RIFF/WAVE learner recordings and normalizes them into
// the canonical PCM stream the pronunciation analyzer expects: 16 kHz, mono,
// 16-bit signed little-endian.
//
// Only uncompressed PCM containers are accepted. The parser walks the RIFF
// chunk list rather than assuming a fixed 44-byte header, because encoders
// routinely emit extra chunks (LIST, fact, JUNK) before the data chunk.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Canonical output format. The remote analyzer only accepts this one shape;
// every input is converted to it regardless of its original rate or layout.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// riffHeaderSize is the fixed RIFF/WAVE preamble: "RIFF" + size + "WAVE".
const riffHeaderSize = 12

// pcmFormatCode is the fmt-chunk audio format tag for uncompressed PCM.
const pcmFormatCode = 1

// FormatError describes a rejected audio container. It is a request-validation
// failure, not an upstream failure: the caller sent audio we cannot use.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "audio: " + e.Reason
}

// formatErrorf constructs a *FormatError with a formatted reason.
func formatErrorf(format string, args ...any) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}

// Format holds the fields of a WAVE fmt chunk that matter for normalization.
type Format struct {
	AudioFormat   int // 1 = PCM
	Channels      int // 1 = mono, 2 = stereo
	SampleRate    int // samples per second
	BitsPerSample int
}

// ParseFormat scans the RIFF/WAVE container and returns the audio format from
// the "fmt " sub-chunk. It rejects containers this package cannot normalize:
// non-PCM encodings, bit depths other than 16, and channel counts outside
// {1, 2}. All rejections are *FormatError values.
func ParseFormat(wav []byte) (Format, error) {
	if err := checkRIFF(wav); err != nil {
		return Format{}, err
	}

	offset := riffHeaderSize
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		if chunkID == "fmt " {
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return Format{}, formatErrorf("fmt chunk truncated (%d bytes)", chunkSize)
			}
			fmtData := wav[offset+8:]
			f := Format{
				AudioFormat:   int(binary.LittleEndian.Uint16(fmtData[0:2])),
				Channels:      int(binary.LittleEndian.Uint16(fmtData[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(fmtData[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(fmtData[14:16])),
			}
			return f, validateFormat(f)
		}

		// Advance past this chunk (chunks are word-aligned: pad by 1 if odd).
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Format{}, &FormatError{Reason: "missing fmt chunk"}
}

// ExtractSamples walks the same chunk list and returns the payload of the
// "data" chunk. The returned slice aliases wav; callers must not mutate it.
func ExtractSamples(wav []byte) ([]byte, error) {
	if err := checkRIFF(wav); err != nil {
		return nil, err
	}

	offset := riffHeaderSize
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		if chunkID == "data" {
			start := offset + 8
			end := start + chunkSize
			if end > len(wav) {
				// A declared size past the buffer end usually means a
				// streaming encoder never patched the header; take what is
				// actually present.
				end = len(wav)
			}
			return wav[start:end], nil
		}

		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return nil, &FormatError{Reason: "missing data chunk"}
}

// checkRIFF validates the 12-byte RIFF/WAVE preamble.
func checkRIFF(wav []byte) error {
	if len(wav) < riffHeaderSize {
		return formatErrorf("container too short to be a RIFF file (%d bytes)", len(wav))
	}
	if string(wav[0:4]) != "RIFF" {
		return &FormatError{Reason: "missing RIFF marker"}
	}
	if string(wav[8:12]) != "WAVE" {
		return &FormatError{Reason: "missing WAVE marker"}
	}
	return nil
}

// validateFormat rejects formats the normalizer does not support.
func validateFormat(f Format) error {
	if f.AudioFormat != pcmFormatCode {
		return formatErrorf("unsupported encoding %d (only uncompressed PCM is accepted)", f.AudioFormat)
	}
	if f.BitsPerSample != TargetBitDepth {
		return formatErrorf("unsupported bit depth %d (only 16-bit is accepted)", f.BitsPerSample)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return formatErrorf("unsupported channel count %d (only mono and stereo are accepted)", f.Channels)
	}
	if f.SampleRate <= 0 {
		return formatErrorf("invalid sample rate %d", f.SampleRate)
	}
	return nil
}

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a standard
// 44-byte RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * TargetBitDepth / 8
	blockAlign := channels * TargetBitDepth / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

	// RIFF chunk descriptor
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize)) // file size − 8
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatCode)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(TargetBitDepth))

	// data sub-chunk
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

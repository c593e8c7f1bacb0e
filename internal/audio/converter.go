package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	// TelephonySampleRate is the sample rate of Twilio media streams.
	TelephonySampleRate = 8000

	mulawBias = 0x84
	mulawClip = 32635
)

// ErrOddPCMLength is returned when 16-bit PCM data has a dangling byte.
var ErrOddPCMLength = errors.New("PCM data length must be even (16-bit samples)")

// ConvertPCMToPCMU converts linear PCM audio to G.711 PCMU (μ-law) format
// Input: PCM audio data (16-bit signed integers, little-endian)
// Output: PCMU (μ-law) encoded audio data at outputSampleRate
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}

	samples, err := BytesToSamples(pcmData)
	if err != nil {
		return nil, err
	}

	// Resample if needed (24kHz → 8kHz)
	if inputSampleRate != outputSampleRate {
		samples = Resample(samples, inputSampleRate, outputSampleRate)
	}

	pcmuData := make([]byte, len(samples))
	for i, sample := range samples {
		pcmuData[i] = LinearToMulaw(sample)
	}

	return pcmuData, nil
}

// ConvertPCMUToPCM converts G.711 PCMU (μ-law) to 16-bit little-endian linear PCM
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, fmt.Errorf("empty PCMU data")
	}

	pcmData := make([]byte, len(pcmuData)*2)
	for i, mulawByte := range pcmuData {
		sample := MulawToLinear(mulawByte)
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}

	return pcmData, nil
}

// LinearToMulaw converts a 16-bit linear PCM sample to 8-bit μ-law (ITU-T G.711).
func LinearToMulaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	// Segment is the position of the highest set bit above bit 7.
	segment := byte(7)
	for mask := int32(0x4000); magnitude&mask == 0 && segment > 0; mask >>= 1 {
		segment--
	}

	mantissa := byte((magnitude >> (segment + 3)) & 0x0F)
	return ^(sign | segment<<4 | mantissa)
}

// MulawToLinear converts an 8-bit μ-law sample to 16-bit linear PCM
func MulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	magnitude := ((mantissa << 3) + mulawBias) << segment
	magnitude -= mulawBias

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// BytesToSamples decodes 16-bit little-endian PCM.
func BytesToSamples(pcmData []byte) ([]int16, error) {
	if len(pcmData)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	samples := make([]int16, len(pcmData)/2)
	for i := range samples {
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Resample converts mono samples between sample rates with the windowed-sinc
// resampler, falling back to linear interpolation if it cannot be built or
// produces no output for a short buffer.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(inputRate),
		OutputRate: float64(outputRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return resampleLinear(samples, inputRate, outputRate)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}
	output, err := rs.Process(input)
	if err != nil || len(output) == 0 {
		return resampleLinear(samples, inputRate, outputRate)
	}

	out := make([]int16, len(output))
	for i, v := range output {
		switch {
		case v >= 1.0:
			out[i] = math.MaxInt16
		case v < -1.0:
			out[i] = math.MinInt16
		default:
			out[i] = int16(v * 32767.0)
		}
	}
	return out
}

// resampleLinear performs simple linear interpolation resampling
func resampleLinear(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputLength := int(float64(len(samples)) * ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) / ratio

		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// MulawDuration returns the playback length of n bytes of 8 kHz μ-law audio.
func MulawDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / TelephonySampleRate
}

// PCMDuration returns the playback length of n bytes of 8 kHz 16-bit PCM.
func PCMDuration(n int) time.Duration {
	return MulawDuration(n / 2)
}

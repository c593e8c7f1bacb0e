package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestConvertPCMToPCMU(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcmData := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcmData[i*2:], uint16(sample))
	}

	pcmuData, err := ConvertPCMToPCMU(pcmData, 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	if len(pcmuData) != len(samples) {
		t.Errorf("Expected PCMU length %d, got %d", len(samples), len(pcmuData))
	}
	if pcmuData[0] != 0xFF {
		t.Errorf("Expected silence to encode as 0xFF, got 0x%02X", pcmuData[0])
	}
	if pcmuData[3] != 0x80 || pcmuData[4] != 0x00 {
		t.Errorf("Expected full-scale samples to encode as 0x80/0x00, got 0x%02X/0x%02X", pcmuData[3], pcmuData[4])
	}
}

func TestConvertPCMToPCMU_Errors(t *testing.T) {
	if _, err := ConvertPCMToPCMU(nil, 8000, 8000); err == nil {
		t.Error("Expected error for empty PCM data")
	}
	if _, err := ConvertPCMToPCMU([]byte{1, 2, 3}, 8000, 8000); err != ErrOddPCMLength {
		t.Errorf("Expected ErrOddPCMLength, got %v", err)
	}
}

func TestConvertPCMToPCMU_Resample(t *testing.T) {
	// One second of a 440 Hz tone at 24 kHz.
	samples := make([]int16, 24000)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}

	pcmuData, err := ConvertPCMToPCMU(SamplesToBytes(samples), 24000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	expectedLen := 8000
	tolerance := 800
	if len(pcmuData) < expectedLen-tolerance || len(pcmuData) > expectedLen+tolerance {
		t.Errorf("Expected PCMU length around %d, got %d", expectedLen, len(pcmuData))
	}
}

func TestConvertPCMUToPCM(t *testing.T) {
	pcmuData := []byte{0x7F, 0xFF, 0x00, 0x80, 0x7E}

	pcmData, err := ConvertPCMUToPCM(pcmuData)
	if err != nil {
		t.Fatalf("ConvertPCMUToPCM failed: %v", err)
	}

	if len(pcmData) != len(pcmuData)*2 {
		t.Errorf("Expected PCM length %d, got %d", len(pcmuData)*2, len(pcmData))
	}

	samples, err := BytesToSamples(pcmData)
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}
	expected := []int16{0, 0, -32124, 32124, 0}
	for _, i := range []int{1, 2, 3} {
		if samples[i] != expected[i] {
			t.Errorf("Expected sample %d at index %d, got %d", expected[i], i, samples[i])
		}
	}
}

func TestLinearToMulaw_RoundTrip(t *testing.T) {
	testSamples := []int16{-32768, -20000, -8159, -4096, -1024, -128, -8, 0, 8, 128, 1024, 4096, 8159, 20000, 32767}

	for _, sample := range testSamples {
		linear := MulawToLinear(LinearToMulaw(sample))

		diff := math.Abs(float64(sample) - float64(linear))
		abs := math.Abs(float64(sample))
		if abs > mulawClip {
			abs = mulawClip
			diff = math.Abs(abs - math.Abs(float64(linear)))
		}

		// G.711 quantization error stays under half a segment step, roughly 1/32 of the magnitude.
		tolerance := math.Max(16, abs/16)
		if diff > tolerance {
			t.Errorf("Round-trip failed for sample %d: recovered=%d, diff=%.0f, tolerance=%.0f", sample, linear, diff, tolerance)
		}
	}
}

func TestMulaw_AllCodesDecodeAndReencode(t *testing.T) {
	for i := 0; i < 256; i++ {
		code := byte(i)
		linear := MulawToLinear(code)
		again := MulawToLinear(LinearToMulaw(linear))
		if again != linear {
			t.Errorf("code 0x%02X: decode=%d, re-encode decode=%d", code, linear, again)
		}
	}
}

func TestResampleLinear(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	if got := len(resampleLinear(samples, 8000, 16000)); got != 200 {
		t.Errorf("Expected resampled length 200, got %d", got)
	}
	if got := len(resampleLinear(samples, 16000, 8000)); got != 50 {
		t.Errorf("Expected resampled length 50, got %d", got)
	}
	if got := len(resampleLinear(samples, 8000, 8000)); got != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), got)
	}
}

func TestResample_SameRate(t *testing.T) {
	samples := []int16{1, 2, 3}
	out := Resample(samples, 8000, 8000)
	if len(out) != 3 || out[2] != 3 {
		t.Errorf("Expected samples unchanged, got %v", out)
	}
}

func TestBytesToSamples(t *testing.T) {
	samples, err := BytesToSamples([]byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80})
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32768}
	if len(samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(samples))
	}
	for i, exp := range expected {
		if samples[i] != exp {
			t.Errorf("Expected sample %d at index %d, got %d", exp, i, samples[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	bytes := SamplesToBytes([]int16{0, 32767, -32768})

	expected := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	if len(bytes) != len(expected) {
		t.Fatalf("Expected %d bytes, got %d", len(expected), len(bytes))
	}
	for i, exp := range expected {
		if bytes[i] != exp {
			t.Errorf("Expected byte %d at index %d, got %d", exp, i, bytes[i])
		}
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	expected := math.Sqrt((1000000 + 1000000 + 4000000 + 4000000) / 4.0)
	if math.Abs(rms-expected) > 0.1 {
		t.Errorf("Expected RMS %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected RMS 0.0 for empty slice, got %.2f", rms)
	}
}

func TestDurations(t *testing.T) {
	if d := MulawDuration(8000); d != time.Second {
		t.Errorf("Expected 1s for 8000 μ-law bytes, got %v", d)
	}
	if d := MulawDuration(160); d != 20*time.Millisecond {
		t.Errorf("Expected 20ms for one frame, got %v", d)
	}
	if d := PCMDuration(320); d != 20*time.Millisecond {
		t.Errorf("Expected 20ms for 320 PCM bytes, got %v", d)
	}
}

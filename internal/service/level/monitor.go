// Package level measures microphone loudness from the most recent analysis
// frame of PCM audio.
package level

import (
	"encoding/binary"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// DefaultFrameSize is the analysis frame length in samples.
const DefaultFrameSize = 2048

// hannPower is the mean of the squared Hann window.
const hannPower = 3.0 / 8.0

// Monitor keeps a sliding frame of mono samples and reports its loudness.
// Write and Level may be called from different goroutines.
type Monitor struct {
	mu    sync.Mutex
	frame []float64 // ring buffer, normalized to [-1,1]
	pos   int
	// odd holds the low byte of a sample split across two writes.
	odd    byte
	hasOdd bool

	fft     *fourier.FFT
	scratch []float64
	coeffs  []complex128
}

// NewMonitor creates a monitor analysing frames of size samples. Sizes
// below 2 fall back to DefaultFrameSize.
func NewMonitor(size int) *Monitor {
	if size < 2 {
		size = DefaultFrameSize
	}
	return &Monitor{
		frame:   make([]float64, size),
		fft:     fourier.NewFFT(size),
		scratch: make([]float64, size),
		coeffs:  make([]complex128, size/2+1),
	}
}

// FrameSize reports the analysis frame length in samples.
func (m *Monitor) FrameSize() int {
	return len(m.frame)
}

// Write feeds s16le mono PCM. Only the newest FrameSize samples are kept.
// Reads need not be sample aligned: a trailing odd byte is held until the
// next Write.
func (m *Monitor) Write(pcm []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasOdd && len(pcm) > 0 {
		m.push(int16(uint16(m.odd) | uint16(pcm[0])<<8))
		m.hasOdd = false
		pcm = pcm[1:]
	}
	i := 0
	for ; i+1 < len(pcm); i += 2 {
		m.push(int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	if i < len(pcm) {
		m.odd, m.hasOdd = pcm[i], true
	}
}

func (m *Monitor) push(v int16) {
	m.frame[m.pos] = float64(v) / 32768
	m.pos = (m.pos + 1) % len(m.frame)
}

// Reset zeroes the frame.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.frame {
		m.frame[i] = 0
	}
	m.pos = 0
	m.hasOdd = false
}

// Level returns the loudness of the current frame in [0,1].
//
// The frame is Hann windowed and transformed with a real FFT; the spectral
// power is folded back through Parseval's theorem and corrected for the
// window, giving the RMS amplitude relative to full scale.
func (m *Monitor) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.frame)
	copy(m.scratch, m.frame[m.pos:])
	copy(m.scratch[n-m.pos:], m.frame[:m.pos])

	window.Hann(m.scratch)
	m.coeffs = m.fft.Coefficients(m.coeffs, m.scratch)

	var power float64
	for k, c := range m.coeffs {
		mag := real(c)*real(c) + imag(c)*imag(c)
		if k == 0 || (n%2 == 0 && k == len(m.coeffs)-1) {
			power += mag
		} else {
			power += 2 * mag
		}
	}

	meanSquare := power / float64(n) / float64(n) / hannPower
	return clamp(math.Sqrt(meanSquare))
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

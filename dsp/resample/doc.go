// Package resample converts sample rates with a streaming polyphase FIR.
//
// The harmonizer uses it at the microphone boundary, where hardware rates
// such as 44.1 or 48 kHz are brought down to the 16 kHz voice format. A
// Resampler keeps filter history across calls, so blocks can be fed one at a
// time. After Reserve, ProcessInto does not allocate and may be called from a
// render goroutine.
//
//	mode            taps/phase   nominal stopband
//	QualityFast     16           ~55 dB
//	QualityBalanced 32           ~75 dB
//	QualityBest     64           ~90 dB
package resample

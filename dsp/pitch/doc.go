// Package pitch provides block-based pitch shifters for the harmony voices.
//
// Two engines share the Shifter interface:
//   - WSOLA: time-domain stretch followed by Hermite resampling back to the
//     block length. No latency, cheap, good on speech.
//   - Spectral: streaming STFT bin shifter with phase accumulation. Smoother
//     on sustained tones, adds FrameSize-Hop samples of latency.
//
// Both preallocate every buffer at construction for a maximum block length,
// and take the ratio per call, so a render loop can change pitch between
// blocks without allocating.
package pitch

// Package capture persists microphone blocks to a WAV file off the audio
// goroutine and decodes audio files back into canonical buffers.
//
// A Writer owns one open file. The audio goroutine hands blocks to Submit,
// which copies them into a preallocated pool buffer and queues them for the
// writer goroutine without blocking; blocks arriving while the queue is full
// are dropped and counted.
package capture

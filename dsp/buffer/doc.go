// Package buffer provides the PCM frame container shared by every stage of
// the harmonizer. A Format describes sample rate, channel count and layout;
// a Buffer holds interleaved float32 frames of one Format together with a
// frame length that may be smaller than its capacity; a Pool hands out
// preallocated Buffers without allocating, so render loops can reuse them.
package buffer

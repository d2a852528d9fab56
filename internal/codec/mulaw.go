// Package codec holds the pure accounting helpers for G.711 µ-law 8 kHz
// audio: byte-count to millisecond conversion and optional debug-level
// level metering. No transcoding happens anywhere in this package; the
// pipeline forwards carrier and model audio bytes unmodified.
package codec

import "math"

// BytesPerMillisecond is fixed by the codec: 8 kHz, 1 byte/sample, mono.
const BytesPerMillisecond = 8

// MillisecondsForBytes converts a count of decoded µ-law bytes to milliseconds,
// per the audio byte-count law: sentMs increases by round(B * 1000 / 8000).
// This is a one-shot conversion; it does not compose correctly across a run
// of deltas that aren't individually multiples of 8 bytes. Use AdvanceMs for
// accounting that spans multiple calls.
func MillisecondsForBytes(n int) int {
	return int(math.Round(float64(n) * 1000.0 / 8000.0))
}

// AdvanceMs converts decodedByteCount bytes to milliseconds against a
// sub-millisecond remainder carried from the previous call, so a contiguous
// run of deltas accumulates the same total ms as one bulk conversion would,
// regardless of each delta's alignment to the 8-bytes-per-ms boundary.
func AdvanceMs(decodedByteCount, remainder int) (ms, nextRemainder int) {
	total := decodedByteCount*1000 + remainder
	return total / 8000, total % 8000
}

// mulawToLinear converts a single 8-bit µ-law sample to 16-bit linear PCM.
// Used only for debug-level level metering (CalculateRMS below); it is never
// part of the forwarding path.
func mulawToLinear(mulawByte byte) int16 {
	mulawByte = ^mulawByte

	sign := mulawByte & 0x80
	segment := int32((mulawByte >> 4) & 0x07)
	mantissa := int32(mulawByte & 0x0F)

	step := mantissa << (segment + 1)
	step += int32(33) << segment
	magnitude := step - 33

	if sign != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS returns the root-mean-square level of a µ-law encoded frame,
// decoded only for metering purposes (debug logging / observability), not
// forwarded or persisted in decoded form.
func CalculateRMS(mulawFrame []byte) float64 {
	if len(mulawFrame) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, b := range mulawFrame {
		sample := float64(mulawToLinear(b))
		sum += sample * sample
	}

	return math.Sqrt(sum / float64(len(mulawFrame)))
}

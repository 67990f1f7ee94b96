package audio

import (
	"math"
	"time"
)

// ChunkBoundary is a half-open [Start, End) sample range
type ChunkBoundary struct {
	Start int
	End   int
}

// Len returns the number of samples covered by the chunk
func (c ChunkBoundary) Len() int {
	return c.End - c.Start
}

// SplitAtSilence cuts samples into chunks of roughly target length, placing
// each cut at the centre of the quietest rmsWindow-sized window found within
// ±search of the ideal cut point. Inputs no longer than target+search come
// back as a single chunk. The returned boundaries are contiguous and cover
// [0, len(samples)).
func SplitAtSilence(samples []float32, sampleRate uint32, target, search, rmsWindow time.Duration) []ChunkBoundary {
	total := len(samples)
	targetSamples := DurationToSamples(target, sampleRate)
	searchSamples := DurationToSamples(search, sampleRate)
	maxChunk := targetSamples + searchSamples

	if total <= maxChunk || targetSamples <= 0 {
		return []ChunkBoundary{{Start: 0, End: total}}
	}

	win := DurationToSamples(rmsWindow, sampleRate)
	if win < 1 {
		win = 1
	}

	numWindows := total / win
	energy := make([]float32, numWindows)
	for i := range energy {
		energy[i] = RMS(samples[i*win : (i+1)*win])
	}

	var chunks []ChunkBoundary
	start := 0
	for {
		if total-start <= maxChunk {
			chunks = append(chunks, ChunkBoundary{Start: start, End: total})
			break
		}

		ideal := start + targetSamples
		searchLo := ideal - searchSamples
		if searchLo < 0 {
			searchLo = 0
		}
		searchHi := ideal + searchSamples
		if searchHi > total {
			searchHi = total
		}

		winLo := searchLo / win
		winHi := searchHi / win
		if winHi > numWindows {
			winHi = numWindows
		}

		cut := ideal
		if winLo < winHi {
			best := winLo
			quietest := float32(math.MaxFloat32)
			for i := winLo; i < winHi; i++ {
				if energy[i] < quietest {
					quietest = energy[i]
					best = i
				}
			}
			cut = best*win + win/2
		}

		if cut > total {
			cut = total
		}
		if cut <= start {
			cut = ideal
		}

		chunks = append(chunks, ChunkBoundary{Start: start, End: cut})
		start = cut
	}

	return chunks
}

// Package audio provides cross-platform audio playback using the oto/v3
// library. The Engine turns a stream of decoded chunks into device output
// and exposes transport controls, position tracking and the recent samples
// used for visualization.
package audio

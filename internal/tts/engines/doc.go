// Package engines contains the synthesis adapters. Piper runs locally as a
// child process; Polly and ElevenLabs are cloud services; Mock produces a
// synthetic tone for tests and machines without a synthesizer. Each adapter
// implements tts.Adapter.
package engines

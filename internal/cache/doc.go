// Package cache keeps decoded audio of finished sessions so that repeating
// an identical request replays it instead of synthesizing it again. Entries
// are zstd-compressed PCM held in an LRU bounded by compressed size.
package cache

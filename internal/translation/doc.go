// Package translation produces localized case content for snapshots.
//
// Cache is a two-tier memo keyed by (case id, target language): an in-process
// LRU in front of the case_translations table. Entries remember the blake3
// fingerprint of the source text they were made from, so an entry whose case
// has since been edited is treated as a miss. Provider translates one batch of
// cases sharing a source language per call.
package translation

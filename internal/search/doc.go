// Package search implements the Search Engine (spec §4.4): it accepts a
// structured Query and produces a ranked Page by composing the Row
// Store Adapter's vector and lexical branches, re-ranking with the
// Scoring Engine's blend formula.
package search

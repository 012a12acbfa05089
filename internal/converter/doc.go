// Package converter turns uploaded documents into their target format.
//
// Engines are looked up by conversion type in a Registry. Unknown types fall
// back to a copy engine that keeps the input bytes and suffix, so every
// accepted upload produces a downloadable result.
package converter

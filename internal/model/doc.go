// Package model tracks the catalog of transcription models, their
// download state on disk and the currently selected model.
package model

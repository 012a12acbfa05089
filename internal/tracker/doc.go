// Package tracker implements the upload-and-track client: it submits a file
// for conversion, listens on the websocket push channel for job updates,
// falls back to polling the status endpoint, and projects every update onto a
// View.
package tracker

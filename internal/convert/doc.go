// Package convert contains the job model, status values, and collaborator
// interfaces shared by the conversion service and the tracking client.
package convert

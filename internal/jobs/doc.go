// Package jobs maps job kinds to task factories so that tasks can be submitted by
// name with JSON parameters, from the HTTP API or the command line.
package jobs

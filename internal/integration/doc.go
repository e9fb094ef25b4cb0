// Package integration exercises several proctordraw instances sharing one
// SQLite database file.
package integration

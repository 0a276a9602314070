// Package output prints run summaries and live progress for the kukai CLI.
package output

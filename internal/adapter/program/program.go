// Package program adapts the observed program to the run controller: an
// in-process function or a child process speaking the fd 3 event stream.
package program

import (
	"context"
	"io"
)

// Program is the external execution entry point.
type Program interface {
	Run(ctx context.Context, stdout, stderr io.Writer) error
}

// Func adapts an in-process function to Program.
type Func func(ctx context.Context, stdout, stderr io.Writer) error

// Run calls f.
func (f Func) Run(ctx context.Context, stdout, stderr io.Writer) error {
	return f(ctx, stdout, stderr)
}

package logging

import (
	"io"

	"go.uber.org/multierr"
)

// fanoutWriter writes every log line to all of its writers.
// A failing writer does not stop the others; their errors are combined.
type fanoutWriter []io.Writer

func (fw fanoutWriter) Write(p []byte) (int, error) {
	var errs error
	for _, w := range fw {
		if _, err := w.Write(p); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return 0, errs
	}
	return len(p), nil
}

package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Producer writes a complete document into w. Returning nil signals
// completion; any error signals failure.
type Producer func(w io.Writer) error

// Collect drains a producer into memory. It returns the full byte
// sequence only after the producer signals completion, and the producer's
// error otherwise. Partial output is never returned.
func Collect(ctx context.Context, produce Producer) ([]byte, error) {
	pr, pw := io.Pipe()

	go func() {
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("producer panicked: %v", rec)
			}
			pw.CloseWithError(err)
		}()
		err = produce(pw)
	}()

	stop := context.AfterFunc(ctx, func() {
		pr.CloseWithError(ctx.Err())
	})
	defer stop()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(pr); err != nil {
		pr.Close()
		return nil, err
	}
	return buf.Bytes(), nil
}

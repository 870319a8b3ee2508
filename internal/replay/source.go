package replay

import (
	"context"
	"io"

	"gnssmon/internal/device"
)

// NewSource plays records into a byte source as if they arrived from the
// serial port. The source reports io.EOF after the last frame. Closing it
// stops playback.
func NewSource(ctx context.Context, name string, records []Record, speed float64, sleeper Sleeper) device.Source {
	pr, pw := io.Pipe()
	go func() {
		err := Play(ctx, records, speed, sleeper, func(frame []byte) error {
			_, err := pw.Write(frame)
			return err
		})
		_ = pw.CloseWithError(err)
	}()
	return device.NewStream(name, pr)
}

package influxdb

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoints writes points in a single blocking request.
//
// Points with an identical measurement, tag set and timestamp overwrite
// each other in the store.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - points: Points to write; an empty call is a no-op
//
// Returns:
//   - error: ErrNotConnected, or ErrWriteFailed wrapping the server error
func (c *Client) WritePoints(ctx context.Context, points ...*write.Point) error {
	if len(points) == 0 {
		return nil
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := c.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

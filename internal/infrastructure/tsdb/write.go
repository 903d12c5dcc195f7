package tsdb

import (
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePoints queues points for the next flush.
//
// Encoding uses the influxdb client's line protocol writer so both sinks
// produce identical lines for the same point. Timestamps are sent in
// nanoseconds, the /write endpoint's default precision.
//
// Parameters:
//   - points: Points to queue; nil entries are skipped
//
// Returns:
//   - error: ErrNotConnected after Close; flush failures arrive via SetOnError
func (c *Client) WritePoints(points ...*write.Point) error {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		if p == nil {
			continue
		}
		lines = append(lines, encodeLine(p))
	}
	if len(lines) == 0 {
		return nil
	}
	return c.enqueue(lines)
}

// encodeLine renders a point without its trailing newline.
func encodeLine(p *write.Point) string {
	return strings.TrimRight(write.PointToLineProtocol(p, time.Nanosecond), "\n")
}

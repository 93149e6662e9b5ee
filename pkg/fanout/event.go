package fanout

import (
	"time"

	"github.com/edgeflare/pgfan/pkg/cdc"
)

// Event is one accepted change event with its position in the log.
// Immutable once appended; subscribers receive copies.
type Event struct {
	Sequence   uint64    `json:"sequence"`
	Payload    cdc.Event `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

package audit

import "time"

// Direction is which way a broker message travelled.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Outcome is what became of an audited message.
type Outcome string

const (
	// OutcomePublished is an outbound message accepted by the broker.
	OutcomePublished Outcome = "published"
	// OutcomePublishFailed is an outbound message the broker did not accept.
	OutcomePublishFailed Outcome = "publish_failed"
	// OutcomeProcessed is an inbound message routed to its handler.
	OutcomeProcessed Outcome = "processed"
	// OutcomeDuplicate is an inbound message whose id was already seen.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeUnknown is an inbound message that could not be classified.
	OutcomeUnknown Outcome = "unknown"
	// OutcomeRejected is an inbound message that failed validation.
	OutcomeRejected Outcome = "rejected"
	// OutcomeFailed is an inbound message whose handler returned an error.
	OutcomeFailed Outcome = "failed"
	// OutcomeIgnored is an inbound copy of our own outbound traffic.
	OutcomeIgnored Outcome = "ignored"
)

// Record is one append-only audit line per broker message.
type Record struct {
	ID          string    `json:"id"`
	Direction   Direction `json:"direction"`
	Topic       string    `json:"topic"`
	MessageID   string    `json:"msg_id,omitempty"`
	MessageType string    `json:"msg_type,omitempty"`
	DeviceID    *int64    `json:"device_id,omitempty"`
	DeviceNo    *int      `json:"device_no,omitempty"`

	// Unknown marks messages whose topic or type could not be classified.
	Unknown bool `json:"unknown"`

	Outcome    Outcome `json:"outcome"`
	ResultCode *int    `json:"result_code,omitempty"`
	Payload    string  `json:"payload,omitempty"`
	Error      string  `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which records List returns.
type Filter struct {
	Direction   Direction
	MessageID   string
	MessageType string
	DeviceID    *int64
	Unknown     *bool
	Since       *time.Time
	Until       *time.Time
	Limit       int // default 50, max 200
	Offset      int
}

// ListResult is a page of records.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

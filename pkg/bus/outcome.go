package bus

// OutcomeStatus classifies one channel's dispatch result.
type OutcomeStatus string

const (
	// OutcomeOK means the provider accepted the send.
	OutcomeOK OutcomeStatus = "ok"
	// OutcomeWarning means the channel was skipped without contacting the
	// provider, e.g. its recipient list resolved to empty.
	OutcomeWarning OutcomeStatus = "warning"
	// OutcomeError means the channel's send failed.
	OutcomeError OutcomeStatus = "error"
	// OutcomeTimeout means the caller deadline expired before the channel
	// completed. Provider-side state is unknown.
	OutcomeTimeout OutcomeStatus = "timeout"
)

// Outcome is one channel's result for one dispatch.
type Outcome struct {
	Channel    string        `json:"channel"`
	Status     OutcomeStatus `json:"status"`
	Detail     string        `json:"detail,omitempty"`
	Recipients []string      `json:"recipients,omitempty"`
}

// Receipt is the joined result of a full dispatch.
type Receipt struct {
	MessageUUID string    `json:"message_uuid"`
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	Outcomes    []Outcome `json:"outcomes"`
}

// Succeeded reports whether at least one channel delivered.
func (r *Receipt) Succeeded() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeOK {
			return true
		}
	}
	return false
}

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Unauthenticated is the recipient id given to connections that carry no handshake metadata.
const Unauthenticated = "-1"

const (
	JobTypeData     = "data"
	JobTypeDownload = "download"
)

const OutcomeSuccess = "Success"

// Message is a job completion notice. Fields other than recipient, job_type and status are
// kept in Extra and written back out untouched.
type Message struct {
	Recipient string
	JobType   string
	Status    string
	Extra     map[string]json.RawMessage
}

var knownFields = [...]string{"recipient", "job_type", "status"}

func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+len(knownFields))
	for key, value := range m.Extra {
		out[key] = value
	}

	for key, value := range map[string]string{
		"recipient": m.Recipient,
		"job_type":  m.JobType,
		"status":    m.Status,
	} {
		b, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}

		out[key] = b
	}

	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	targets := map[string]*string{
		"recipient": &m.Recipient,
		"job_type":  &m.JobType,
		"status":    &m.Status,
	}

	for _, key := range knownFields {
		raw, ok := fields[key]
		if !ok {
			continue
		}

		delete(fields, key)
		if string(raw) == "null" {
			continue
		}

		if err := json.Unmarshal(raw, targets[key]); err != nil {
			return fmt.Errorf("field %v: %w", key, err)
		}
	}

	m.Extra = nil
	if len(fields) > 0 {
		m.Extra = fields
	}

	return nil
}

// Outcome returns the part of Status before the first comma.
func (m Message) Outcome() string {
	outcome, _ := ParseStatus(m.Status)
	return outcome
}

// Detail returns the part of Status after the first comma.
func (m Message) Detail() string {
	_, detail := ParseStatus(m.Status)
	return detail
}

func (m Message) Succeeded() bool {
	return m.Outcome() == OutcomeSuccess
}

// ParseStatus splits a "<Outcome>,<Detail>" status on its first comma.
func ParseStatus(status string) (string, string) {
	outcome, detail, _ := strings.Cut(status, ",")
	return outcome, detail
}

// FormatStatus is the inverse of ParseStatus.
func FormatStatus(outcome, detail string) string {
	return fmt.Sprintf("%v,%v", outcome, detail)
}

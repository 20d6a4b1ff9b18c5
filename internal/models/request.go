package models

import "time"

// SourceUnknown is stored when no forwarding header identified the caller.
const SourceUnknown = "unknown"

// RequestRecord is an immutable snapshot of one inbound call to an endpoint.
// It is created by the ingestion pipeline and never updated.
type RequestRecord struct {
	ID          string              `json:"id"`
	EndpointID  string              `json:"endpoint_id"`
	Method      string              `json:"method"`
	Headers     map[string][]string `json:"headers"`
	QueryParams map[string][]string `json:"query_params"`
	Body        string              `json:"body"`
	SourceIP    string              `json:"source_ip"`
	ReceivedAt  time.Time           `json:"received_at"`
}

package artifact

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata is the sidecar record written next to every report. Fields
// added by newer releases, or by users editing the file, survive a
// read-modify-write cycle: unknown keys are carried through verbatim.
type Metadata struct {
	JobID         string          `json:"job_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Filename      string          `json:"filename"`
	ContentType   string          `json:"content_type"`
	SizeBytes     int64           `json:"size_bytes"`
	Prompt        string          `json:"prompt"`
	Model         string          `json:"model"`
	Provider      string          `json:"provider"`
	Status        string          `json:"status"`
	ProviderJobID string          `json:"provider_job_id,omitempty"`
	Cost          decimal.Decimal `json:"cost"`
	TokensUsed    int64           `json:"tokens_used"`

	// extra holds keys this release does not know about.
	extra map[string]json.RawMessage
}

// knownMetadataKeys are the keys owned by the struct fields above.
var knownMetadataKeys = map[string]bool{
	"job_id": true, "created_at": true, "filename": true, "content_type": true,
	"size_bytes": true, "prompt": true, "model": true, "provider": true,
	"status": true, "provider_job_id": true, "cost": true, "tokens_used": true,
}

// UnmarshalJSON decodes known fields and stashes the rest.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Metadata(p)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownMetadataKeys[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		m.extra = raw
	}
	return nil
}

// MarshalJSON merges the struct fields with any preserved unknown keys.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	base, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, val := range m.extra {
		merged[key] = val
	}
	return json.Marshal(merged)
}

// Extra returns a preserved unknown field by key.
func (m *Metadata) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

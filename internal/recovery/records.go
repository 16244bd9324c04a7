package recovery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ibs-source/delivery-engine/internal/message"
)

// records is the whole rerequest record map, keyed by probe id.
type records map[string]message.RerequestRecord

func decodeRecords(data []byte) (records, error) {
	out := make(records)
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode rerequest records: %w", err)
	}
	for id, rec := range out {
		if rec.ProbeID == "" {
			rec.ProbeID = id
			out[id] = rec
		}
	}
	return out, nil
}

func (r records) encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerequest records: %w", err)
	}
	return data, nil
}

// merge overlays newer entries from other onto r.
func (r records) merge(other records) {
	for id, rec := range other {
		cur, ok := r[id]
		if !ok || rec.ResendCount > cur.ResendCount || rec.LastAttempt.After(cur.LastAttempt) {
			r[id] = rec
		}
	}
}

// prune removes records whose last attempt is older than cutoff and returns
// how many were removed.
func (r records) prune(cutoff time.Time) int {
	removed := 0
	for id, rec := range r {
		if rec.LastAttempt.Before(cutoff) {
			delete(r, id)
			removed++
		}
	}
	return removed
}

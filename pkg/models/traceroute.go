package models

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
)

// Traceroute is a stored route discovery result.
type Traceroute struct {
	ID        int64             `db:"traceroute_id"`
	From      meshtastic.NodeID `db:"from_id"`
	To        meshtastic.NodeID `db:"to_id"`
	Channel   *int32            `db:"channel"`
	TsCreated time.Time         `db:"ts_created"`
	// Route holds the intermediate hops from From to To, endpoints excluded.
	Route IDList `db:"route"`
	// RouteBack is nil when no reply was captured.
	RouteBack  IDList  `db:"route_back"`
	SnrTowards SNRList `db:"snr_towards"`
	SnrBack    SNRList `db:"snr_back"`
	Success    bool    `db:"success"`
}

// HasReturn reports whether the return leg was captured.
func (t *Traceroute) HasReturn() bool {
	return t.RouteBack != nil
}

// IDList is a node route stored as a ';' separated column.
// A NULL column scans to nil, an empty string to an empty, non-nil list.
type IDList []meshtastic.NodeID

func (l *IDList) Scan(src any) error {
	s, isNull, err := scanText(src)
	if err != nil {
		return err
	}
	if isNull {
		*l = nil
		return nil
	}
	out := IDList{}
	for _, part := range splitList(s) {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid route entry %q: %w", part, err)
		}
		out = append(out, meshtastic.NodeID(v))
	}
	*l = out
	return nil
}

func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	parts := make([]string, len(l))
	for i, id := range l {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ";"), nil
}

// SNRList is a per-hop SNR sequence (dB) stored as a ';' separated column.
type SNRList []float64

func (l *SNRList) Scan(src any) error {
	s, isNull, err := scanText(src)
	if err != nil {
		return err
	}
	if isNull {
		*l = nil
		return nil
	}
	out := SNRList{}
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return fmt.Errorf("invalid snr entry %q: %w", part, err)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

func (l SNRList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ";"), nil
}

// At returns the value at index i, or false when the entry is missing.
func (l SNRList) At(i int) (float64, bool) {
	if i < 0 || i >= len(l) {
		return 0, false
	}
	return l[i], true
}

func scanText(src any) (string, bool, error) {
	switch v := src.(type) {
	case nil:
		return "", true, nil
	case string:
		return v, false, nil
	case []byte:
		return string(v), false, nil
	default:
		return "", false, fmt.Errorf("unsupported list column type %T", src)
	}
}

func splitList(s string) []string {
	parts := []string{}
	for _, p := range strings.Split(s, ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

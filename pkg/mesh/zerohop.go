package mesh

import (
	"slices"
	"time"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

// ZeroHopAggregate summarises every direct reception of From by Observer
// inside the aggregation window.
type ZeroHopAggregate struct {
	From     meshtastic.NodeID `json:"from"`
	Observer meshtastic.NodeID `json:"observer"`
	Count    int               `json:"count"`
	// BestSNR and AvgSNR are nil when no reception reported an SNR.
	BestSNR    *float64  `json:"best_snr"`
	AvgSNR     *float64  `json:"avg_snr"`
	LastRxTime time.Time `json:"last_rx_time"`

	snrSum   float64
	snrCount int
	seq      int
}

// Tier classifies the best SNR seen on the link.
func (a *ZeroHopAggregate) Tier() (Tier, bool) {
	if a.BestSNR == nil {
		return TierVeryPoor, false
	}
	return Classify(*a.BestSNR), true
}

type linkKey struct {
	from, observer meshtastic.NodeID
}

// ZeroHopTable is the set of direct links inferred from receptions. Heard and
// HeardBy are two indices over the same aggregates.
type ZeroHopTable struct {
	links   []*ZeroHopAggregate
	heard   map[meshtastic.NodeID][]*ZeroHopAggregate
	heardBy map[meshtastic.NodeID][]*ZeroHopAggregate
}

// Aggregate groups receptions by (sender, observer). Receptions older than
// now-window are ignored; a window <= 0 keeps everything. A node hearing its
// own packet is not a link and is dropped.
//
// Every reception that survives the filter is a direct hearing by its
// observer, so the counts of all aggregates add up to the number of kept
// receptions. The hop count reported with a reception is informational only.
func Aggregate(receptions []models.Reception, window time.Duration, now time.Time) *ZeroHopTable {
	cutoff := now.Add(-window)
	byKey := map[linkKey]*ZeroHopAggregate{}
	var links []*ZeroHopAggregate

	for i := range receptions {
		r := &receptions[i]
		if window > 0 && r.RxTime.Before(cutoff) {
			continue
		}
		if r.From == r.ReceivedBy {
			continue
		}

		k := linkKey{from: r.From, observer: r.ReceivedBy}
		agg, ok := byKey[k]
		if !ok {
			agg = &ZeroHopAggregate{From: r.From, Observer: r.ReceivedBy}
			byKey[k] = agg
			links = append(links, agg)
		}

		agg.Count++
		agg.seq = i
		if r.RxTime.After(agg.LastRxTime) {
			agg.LastRxTime = r.RxTime
		}
		if r.RxSnr != nil {
			snr := *r.RxSnr
			if agg.BestSNR == nil || snr > *agg.BestSNR {
				agg.BestSNR = &snr
			}
			agg.snrSum += snr
			agg.snrCount++
		}
	}

	for _, agg := range links {
		if agg.snrCount > 0 {
			avg := agg.snrSum / float64(agg.snrCount)
			agg.AvgSNR = &avg
		}
	}

	return newTable(links)
}

func newTable(links []*ZeroHopAggregate) *ZeroHopTable {
	slices.SortStableFunc(links, compareLinks)

	t := &ZeroHopTable{
		links:   links,
		heard:   map[meshtastic.NodeID][]*ZeroHopAggregate{},
		heardBy: map[meshtastic.NodeID][]*ZeroHopAggregate{},
	}
	for _, agg := range links {
		t.heard[agg.Observer] = append(t.heard[agg.Observer], agg)
		t.heardBy[agg.From] = append(t.heardBy[agg.From], agg)
	}
	return t
}

// compareLinks orders by most recent reception first. On equal times the
// aggregate updated last wins, then ids keep the order deterministic.
func compareLinks(a, b *ZeroHopAggregate) int {
	if c := b.LastRxTime.Compare(a.LastRxTime); c != 0 {
		return c
	}
	if a.seq != b.seq {
		return b.seq - a.seq
	}
	if a.From != b.From {
		return cmpID(a.From, b.From)
	}
	return cmpID(a.Observer, b.Observer)
}

func cmpID(a, b meshtastic.NodeID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Heard lists the nodes observer heard directly.
func (t *ZeroHopTable) Heard(observer meshtastic.NodeID) []ZeroHopAggregate {
	return copyLinks(t.heard[observer])
}

// HeardBy lists the nodes that heard source directly.
func (t *ZeroHopTable) HeardBy(source meshtastic.NodeID) []ZeroHopAggregate {
	return copyLinks(t.heardBy[source])
}

// Links returns every aggregate in display order.
func (t *ZeroHopTable) Links() []ZeroHopAggregate {
	return copyLinks(t.links)
}

// Len is the number of distinct links.
func (t *ZeroHopTable) Len() int {
	return len(t.links)
}

// TotalReceptions is the sum of all aggregate counts.
func (t *ZeroHopTable) TotalReceptions() int {
	total := 0
	for _, agg := range t.links {
		total += agg.Count
	}
	return total
}

// Swap returns a table with sender and observer exchanged on every link.
func (t *ZeroHopTable) Swap() *ZeroHopTable {
	links := make([]*ZeroHopAggregate, len(t.links))
	for i, agg := range t.links {
		c := *agg
		c.From, c.Observer = agg.Observer, agg.From
		links[i] = &c
	}
	return newTable(links)
}

func copyLinks(src []*ZeroHopAggregate) []ZeroHopAggregate {
	out := make([]ZeroHopAggregate, len(src))
	for i, agg := range src {
		out[i] = *agg
	}
	return out
}

type receptionKey struct {
	packetID       int64
	from, observer meshtastic.NodeID
}

// MergeReceptions combines receptions attached to chat messages with the raw
// reception log. A packet seen by the same observer in both sources is kept
// once. Receptions without a packet id cannot be matched and are always kept.
func MergeReceptions(chat, raw []models.Reception) []models.Reception {
	out := make([]models.Reception, 0, len(chat)+len(raw))
	seen := make(map[receptionKey]struct{}, len(chat)+len(raw))

	add := func(rs []models.Reception) {
		for _, r := range rs {
			if r.PacketID != nil {
				k := receptionKey{packetID: *r.PacketID, from: r.From, observer: r.ReceivedBy}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
			}
			out = append(out, r)
		}
	}
	add(chat)
	add(raw)
	return out
}

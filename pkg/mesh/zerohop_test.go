package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/meshinfo/pkg/meshtastic"
	"github.com/kabili207/meshinfo/pkg/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func rx(from, by meshtastic.NodeID, ago time.Duration, snr float64) models.Reception {
	s := snr
	return models.Reception{From: from, ReceivedBy: by, RxTime: baseTime.Add(-ago), RxSnr: &s}
}

func withPacket(r models.Reception, id int64) models.Reception {
	r.PacketID = &id
	return r
}

func TestAggregateScenario(t *testing.T) {
	const a, b meshtastic.NodeID = 0xa, 0xb
	table := Aggregate([]models.Reception{
		rx(a, b, 10*time.Minute, 3.0),
		rx(a, b, 5*time.Minute, -2.0),
	}, time.Hour, baseTime)

	heard := table.Heard(b)
	require.Len(t, heard, 1)
	agg := heard[0]
	assert.Equal(t, a, agg.From)
	assert.Equal(t, b, agg.Observer)
	assert.Equal(t, 2, agg.Count)
	require.NotNil(t, agg.BestSNR)
	require.NotNil(t, agg.AvgSNR)
	assert.Equal(t, 3.0, *agg.BestSNR)
	assert.InDelta(t, 0.5, *agg.AvgSNR, 1e-9)
	assert.Equal(t, baseTime.Add(-5*time.Minute), agg.LastRxTime)

	tier, ok := agg.Tier()
	assert.True(t, ok)
	assert.Equal(t, TierGood, tier)
}

func TestAggregateCountsEveryReception(t *testing.T) {
	var receptions []models.Reception
	for i := 0; i < 60; i++ {
		from := meshtastic.NodeID(1 + i%5)
		by := meshtastic.NodeID(10 + i%3)
		receptions = append(receptions, rx(from, by, time.Duration(i)*time.Minute, float64(i%20)-10))
	}

	table := Aggregate(receptions, 2*time.Hour, baseTime)
	assert.Equal(t, len(receptions), table.TotalReceptions())

	sum := 0
	for _, l := range table.Links() {
		sum += l.Count
	}
	assert.Equal(t, len(receptions), sum)
}

func TestAggregateWindowAndSelf(t *testing.T) {
	table := Aggregate([]models.Reception{
		rx(1, 2, time.Minute, 1),
		rx(1, 2, 3*time.Hour, 1),
		rx(2, 2, time.Minute, 1),
	}, time.Hour, baseTime)

	assert.Equal(t, 1, table.Len())
	assert.Equal(t, 1, table.TotalReceptions())
	assert.Equal(t, meshtastic.NodeID(1), table.Heard(2)[0].From)
	assert.Empty(t, table.HeardBy(2))
}

func TestAggregateZeroWindowKeepsAll(t *testing.T) {
	table := Aggregate([]models.Reception{
		rx(1, 2, 48*time.Hour, 1),
		rx(1, 2, time.Minute, 1),
	}, 0, baseTime)
	assert.Equal(t, 2, table.TotalReceptions())
}

func TestAggregateMissingSNR(t *testing.T) {
	r := rx(1, 2, time.Minute, 0)
	r.RxSnr = nil
	table := Aggregate([]models.Reception{r}, time.Hour, baseTime)

	links := table.Links()
	require.Len(t, links, 1)
	assert.Equal(t, 1, links[0].Count)
	assert.Nil(t, links[0].BestSNR)
	assert.Nil(t, links[0].AvgSNR)
	_, ok := links[0].Tier()
	assert.False(t, ok)
}

func TestSwapMatchesHeardBy(t *testing.T) {
	receptions := []models.Reception{
		rx(1, 2, time.Minute, 4),
		rx(1, 3, 2*time.Minute, -6),
		rx(2, 1, 3*time.Minute, -1),
		rx(3, 1, 3*time.Minute, -11),
		rx(4, 1, 20*time.Minute, 2),
		rx(1, 4, 25*time.Minute, 7),
	}
	table := Aggregate(receptions, time.Hour, baseTime)
	swapped := table.Swap()

	for _, id := range []meshtastic.NodeID{1, 2, 3, 4, 5} {
		heardBy := table.HeardBy(id)
		fromSwap := swapped.Heard(id)
		require.Len(t, fromSwap, len(heardBy), "node %d", id)
		for i := range heardBy {
			assert.Equal(t, heardBy[i].From, fromSwap[i].Observer)
			assert.Equal(t, heardBy[i].Observer, fromSwap[i].From)
			assert.Equal(t, heardBy[i].Count, fromSwap[i].Count)
			assert.Equal(t, heardBy[i].BestSNR, fromSwap[i].BestSNR)
			assert.Equal(t, heardBy[i].LastRxTime, fromSwap[i].LastRxTime)
		}
	}
}

func TestAggregateOrdering(t *testing.T) {
	// 1->9 and 2->9 share a last reception time; 2->9 was updated later.
	table := Aggregate([]models.Reception{
		rx(3, 9, 30*time.Minute, 1),
		rx(1, 9, time.Minute, 1),
		rx(2, 9, time.Minute, 1),
		rx(4, 9, 0, 1),
	}, time.Hour, baseTime)

	heard := table.Heard(9)
	require.Len(t, heard, 4)
	got := []meshtastic.NodeID{heard[0].From, heard[1].From, heard[2].From, heard[3].From}
	assert.Equal(t, []meshtastic.NodeID{4, 2, 1, 3}, got)
}

func TestMergeReceptionsDedupes(t *testing.T) {
	chat := []models.Reception{
		withPacket(rx(1, 2, time.Minute, 5), 100),
		withPacket(rx(1, 3, time.Minute, 2), 100),
	}
	raw := []models.Reception{
		withPacket(rx(1, 2, time.Minute, 5), 100),
		withPacket(rx(1, 2, 2*time.Minute, 1), 101),
		rx(1, 2, 3*time.Minute, 0),
		rx(1, 2, 3*time.Minute, 0),
	}

	merged := MergeReceptions(chat, raw)
	assert.Len(t, merged, 5)

	table := Aggregate(merged, time.Hour, baseTime)
	assert.Equal(t, len(merged), table.TotalReceptions())
	heardBy := table.HeardBy(1)
	require.Len(t, heardBy, 2)
	assert.Equal(t, meshtastic.NodeID(2), heardBy[0].Observer)
	assert.Equal(t, 4, heardBy[0].Count)
}

func TestHeardReturnsCopies(t *testing.T) {
	table := Aggregate([]models.Reception{rx(1, 2, time.Minute, 1)}, time.Hour, baseTime)
	h := table.Heard(2)
	h[0].Count = 99
	assert.Equal(t, 1, table.Heard(2)[0].Count)
}

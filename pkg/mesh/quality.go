// Package mesh derives topology from stored packets: link quality tiers,
// node distances, zero-hop reception links and reconstructed traceroutes.
package mesh

// Tier is a coarse link quality bucket derived from SNR.
type Tier int

const (
	TierVeryPoor Tier = iota
	TierPoor
	TierAdequate
	TierGood
)

// Classify buckets an SNR reading in dB.
//
//	snr > 0         Good
//	-5 < snr <= 0   Adequate
//	-10 < snr <= -5 Poor
//	snr <= -10      VeryPoor
func Classify(snr float64) Tier {
	switch {
	case snr > 0:
		return TierGood
	case snr > -5:
		return TierAdequate
	case snr > -10:
		return TierPoor
	default:
		return TierVeryPoor
	}
}

func (t Tier) String() string {
	switch t {
	case TierGood:
		return "good"
	case TierAdequate:
		return "adequate"
	case TierPoor:
		return "poor"
	default:
		return "very_poor"
	}
}

// Label is the human readable tier name.
func (t Tier) Label() string {
	switch t {
	case TierGood:
		return "Good"
	case TierAdequate:
		return "Adequate"
	case TierPoor:
		return "Poor"
	default:
		return "Very Poor"
	}
}

// CSSClass is the class used to color links and SNR badges.
func (t Tier) CSSClass() string {
	return "snr-" + t.String()
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

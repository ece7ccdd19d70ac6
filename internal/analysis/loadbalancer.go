package analysis

import (
	"fmt"
	"time"

	"github.com/dnsvigil/dnsvigil/internal/state"
)

// LBPattern is the detected load balancer behavior class.
type LBPattern string

const (
	LBRoundRobin LBPattern = "round_robin"
	LBWeighted   LBPattern = "weighted"
	LBFailover   LBPattern = "failover"
	LBGeographic LBPattern = "geographic"
	LBUnknown    LBPattern = "unknown"
)

// LBResult is the outcome of load balancer pattern analysis.
type LBResult struct {
	IsLoadBalancer bool
	Pattern        LBPattern
	Confidence     float64
	Analysis       string
}

// lbWindow is how far back history entries qualify for analysis.
const lbWindow = time.Hour

// AnalyzeLoadBalancer inspects the recent IP history and classifies the
// rotation behavior. Entries older than one hour are ignored; fewer than
// three qualifying entries yield unknown. Evaluation order is round_robin,
// weighted, failover; first match wins.
func AnalyzeLoadBalancer(history []state.IPObservation, now time.Time) LBResult {
	cutoff := now.Add(-lbWindow).UnixMilli()
	var recent []state.IPObservation
	for _, obs := range history {
		if obs.Timestamp >= cutoff {
			recent = append(recent, obs)
		}
	}

	unknown := LBResult{Pattern: LBUnknown, Analysis: "Insufficient history for pattern analysis"}
	if len(recent) < 3 {
		return unknown
	}

	n := len(recent)
	freq := make(map[string]int, n)
	for _, obs := range recent {
		freq[state.Signature(obs.IPs)]++
	}
	u := len(freq)

	if n >= 5 && u >= 2 && u <= 3 {
		return LBResult{
			IsLoadBalancer: true,
			Pattern:        LBRoundRobin,
			Confidence:     0.8,
			Analysis:       fmt.Sprintf("Round-robin rotation: %d observations cycling through %d IP sets in the last hour", n, u),
		}
	}

	// Weighted needs a clear dominant signature. U=1 has no second place and
	// stays unknown.
	if u >= 2 && u <= 4 {
		top, second := topTwoCounts(freq)
		if float64(top) > 1.5*float64(second) {
			return LBResult{
				IsLoadBalancer: true,
				Pattern:        LBWeighted,
				Confidence:     0.7,
				Analysis:       fmt.Sprintf("Weighted distribution: dominant IP set seen %d times vs %d for the runner-up across %d observations", top, second, n),
			}
		}
	}

	if u <= 2 && hasFailoverGap(recent) {
		return LBResult{
			IsLoadBalancer: true,
			Pattern:        LBFailover,
			Confidence:     0.6,
			Analysis:       fmt.Sprintf("Failover behavior: long quiet gap followed by a switch between %d IP sets", u),
		}
	}

	unknown.Analysis = fmt.Sprintf("No recognizable pattern across %d observations of %d IP sets", n, u)
	return unknown
}

func topTwoCounts(freq map[string]int) (top, second int) {
	for _, c := range freq {
		if c > top {
			top, second = c, top
		} else if c > second {
			second = c
		}
	}
	return top, second
}

// hasFailoverGap reports whether any gap between consecutive observations
// exceeds three times the mean gap.
func hasFailoverGap(recent []state.IPObservation) bool {
	if len(recent) < 2 {
		return false
	}
	gaps := make([]int64, 0, len(recent)-1)
	var total int64
	for i := 1; i < len(recent); i++ {
		gap := recent[i].Timestamp - recent[i-1].Timestamp
		gaps = append(gaps, gap)
		total += gap
	}
	mean := float64(total) / float64(len(gaps))
	if mean <= 0 {
		return false
	}
	for _, gap := range gaps {
		if float64(gap) > 3*mean {
			return true
		}
	}
	return false
}

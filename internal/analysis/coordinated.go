package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dnsvigil/dnsvigil/internal/state"
)

// CoordinationResult reports whether sibling domains under the same
// registrable parent changed near-simultaneously.
type CoordinationResult struct {
	IsCoordinated  bool
	Score          float64
	Analysis       string
	RelatedDomains []string
}

// DetectCoordination correlates the target's change against the recent
// global change entries. entries should cover the last ten minutes and is
// expected to already include the target's own change.
func DetectCoordination(target string, targetIPs []string, entries []state.GlobalChange) CoordinationResult {
	parent := RegistrableParent(target)

	relatedSet := make(map[string]struct{})
	relatedIPs := make(map[string]struct{})
	for _, e := range entries {
		if e.Domain == target || RegistrableParent(e.Domain) != parent {
			continue
		}
		relatedSet[e.Domain] = struct{}{}
		for _, ip := range e.IPs {
			relatedIPs[ip] = struct{}{}
		}
	}

	related := make([]string, 0, len(relatedSet))
	for d := range relatedSet {
		related = append(related, d)
	}
	sort.Strings(related)

	overlap := 0
	for _, ip := range targetIPs {
		if _, ok := relatedIPs[ip]; ok {
			overlap++
		}
	}
	denom := len(relatedIPs)
	if len(targetIPs) > denom {
		denom = len(targetIPs)
	}
	overlapRatio := 0.0
	if denom > 0 {
		overlapRatio = float64(overlap) / float64(denom)
	}

	score := 0.3*float64(len(related)) + 0.7*overlapRatio
	if score > 1 {
		score = 1
	}

	result := CoordinationResult{
		Score:          score,
		RelatedDomains: related,
		IsCoordinated:  len(related) >= 2 && score > 0.6,
	}
	if result.IsCoordinated {
		result.Analysis = fmt.Sprintf(
			"Coordinated change across %d sibling domains under %s (IP overlap %.0f%%): %s",
			len(related), parent, overlapRatio*100, strings.Join(related, ", "))
	} else {
		result.Analysis = fmt.Sprintf("No coordinated change under %s (%d related domains, score %.2f)",
			parent, len(related), score)
	}
	return result
}

// RegistrableParent returns the last two dot-separated labels of a domain.
func RegistrableParent(fqdn string) string {
	labels := strings.Split(fqdn, ".")
	if len(labels) <= 2 {
		return fqdn
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

package feed

import "github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"

// FilterUnused drops candidates whose ExternalID is in used, preserving order.
func FilterUnused(candidates []domain.Candidate, used []string) []domain.Candidate {
	usedSet := make(map[string]struct{}, len(used))
	for _, id := range used {
		usedSet[id] = struct{}{}
	}

	unused := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := usedSet[c.ExternalID]; ok {
			continue
		}
		unused = append(unused, c)
	}
	return unused
}

// SelectNewest returns the candidate with the latest PublishedAt.
// Ties resolve to the earliest candidate in input order.
func SelectNewest(candidates []domain.Candidate) (domain.Candidate, bool) {
	if len(candidates) == 0 {
		return domain.Candidate{}, false
	}

	newest := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].PublishedAt.After(candidates[newest].PublishedAt) {
			newest = i
		}
	}
	return candidates[newest], true
}

package database

// Review queue positions are variable-length strings over '0'..'z' that
// sort lexicographically. Moving one entry rewrites only the ranks that
// break ordering instead of renumbering the whole queue.

const (
	rankLow  = '0'
	rankHigh = 'z'
	rankMid  = 'U'
)

// Next returns a short rank sorting after prev. It bumps the rightmost digit
// that still has room below rankHigh and drops everything after it; only a
// fully saturated prev grows by one digit.
func Next(prev string) string {
	if prev == "" {
		return string(rankMid)
	}
	digits := []rune(prev)
	for i := len(digits) - 1; i >= 0; i-- {
		if digits[i] < rankHigh-1 {
			return string(digits[:i]) + string(digits[i]+1)
		}
	}
	return prev + string(rune(rankLow+1))
}

// IsBetween reports whether rank sorts strictly between prev and next, where
// an empty bound is open. With both bounds open it reports false so callers
// always assign a fresh rank.
func IsBetween(prev, rank, next string) bool {
	switch {
	case prev == "" && next == "":
		return false
	case prev == "":
		return rank < next
	case next == "":
		return prev < rank
	default:
		return prev < rank && rank < next
	}
}

// Between returns a rank strictly between prev and next. An empty next is
// an open upper bound; an empty prev is treated as the lowest rank.
func Between(prev, next string) string {
	if next == "" {
		return Next(prev)
	}

	lo, hi := []rune(prev), []rune(next)
	out := make([]rune, 0, len(hi)+1)
	for i := 0; ; i++ {
		l := rune(rankLow)
		if i < len(lo) {
			l = lo[i]
		}
		h := rune(rankHigh)
		if i < len(hi) {
			h = hi[i]
		}

		if h-l > 1 {
			return string(append(out, l+(h-l)/2))
		}
		// no room at this position: copy the lower digit and go one deeper
		out = append(out, l)
	}
}

// Reorder returns new ranks for the ids in order whose current rank does
// not already sit between its neighbours. existing maps id to rank.
func Reorder(existing map[string]string, order []string) map[string]string {
	updates := make(map[string]string)
	rankOf := func(id string) string {
		if r, ok := updates[id]; ok {
			return r
		}
		return existing[id]
	}

	for i, id := range order {
		var prev, next string
		if i > 0 {
			prev = rankOf(order[i-1])
		}
		if i+1 < len(order) {
			next = existing[order[i+1]]
		}

		cur := existing[id]
		if cur != "" && IsBetween(prev, cur, next) {
			continue
		}
		updates[id] = Between(prev, next)
	}
	return updates
}

package matching

// Similarity scores how alike two column names are, in [0,1].
//
// Both names are tokenized (see Tokenize); every token on one side is
// paired with its best bigram-Dice counterpart on the other side and the
// per-token bests are averaged. The larger of the two directions wins,
// so a short source header that exactly names one token of a longer
// target ("ID" against "order_id") still scores 1.
//
// Identical normalized forms short-circuit to 1; names that normalize to
// nothing score 0.
func Similarity(a, b string) float64 {
	na, nb := NormalizeColumnName(a), NormalizeColumnName(b)
	if na == "" || nb == "" {
		return 0
	}

	if na == nb {
		return 1
	}

	ta, tb := Tokenize(a), Tokenize(b)

	forward := directedScore(ta, tb)
	backward := directedScore(tb, ta)

	if backward > forward {
		return backward
	}

	return forward
}

// directedScore averages, over every token in from, the best Dice
// similarity that token achieves against the to side.
func directedScore(from, to []string) float64 {
	if len(from) == 0 || len(to) == 0 {
		return 0
	}

	var total float64

	for _, ft := range from {
		best := 0.0

		for _, tt := range to {
			if s := diceBigram(ft, tt); s > best {
				best = s
			}
		}

		total += best
	}

	return total / float64(len(from))
}

// diceBigram is the Sørensen–Dice coefficient over character bigrams.
// Bigrams are counted as a multiset so repeated pairs cannot inflate the
// score. Tokens shorter than two bytes only match exactly.
func diceBigram(a, b string) float64 {
	if a == b {
		return 1
	}

	if len(a) < 2 || len(b) < 2 {
		return 0
	}

	counts := make(map[string]int, len(a)-1)
	for i := 0; i+2 <= len(a); i++ {
		counts[a[i:i+2]]++
	}

	matches := 0

	for i := 0; i+2 <= len(b); i++ {
		bg := b[i : i+2]
		if counts[bg] > 0 {
			counts[bg]--
			matches++
		}
	}

	if matches == 0 {
		return 0
	}

	return 2 * float64(matches) / float64(len(a)+len(b)-2)
}

package prompt

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// fillerPhrases are dropped before anything else when a prompt is over
// budget. Matching is per whole word and case-insensitive.
var fillerPhrases = []string{
	"very",
	"extremely",
	"highly",
	"incredibly",
	"really",
	"truly",
	"absolutely",
	"super",
	"stunning",
	"gorgeous",
	"beautiful",
	"breathtaking",
	"amazing",
	"masterpiece",
	"best quality",
	"high quality",
	"ultra high quality",
	"top quality",
	"award winning",
	"award-winning",
	"ultra detailed",
	"ultra-detailed",
	"8k",
	"4k",
}

var fillerTokens = tokenizePhrases(fillerPhrases)

// Optimize shrinks prompt to at most maxLength runes. Prompts already
// within budget are only whitespace-normalized. The first clause is
// always kept; later clauses are dropped from the end. When the first
// clause alone is over budget it is cut on a word boundary.
//
// Optimize(Optimize(p, n), n) == Optimize(p, n) for every p and n.
func Optimize(prompt string, maxLength int) string {
	normalized := normalize(prompt)
	if maxLength <= 0 || runeLen(normalized) <= maxLength {
		return normalized
	}

	clauses := dedupeClauses(splitClauses(stripFillers(normalized)))
	if len(clauses) == 0 {
		return truncateWords(normalized, maxLength)
	}

	joined := strings.Join(clauses, ", ")
	if runeLen(joined) <= maxLength {
		return joined
	}

	first := clauses[0]
	if runeLen(first) > maxLength {
		return truncateWords(first, maxLength)
	}

	out := first
	for _, c := range clauses[1:] {
		next := out + ", " + c
		if runeLen(next) > maxLength {
			break
		}
		out = next
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// stripFillers removes filler phrases word by word. A comma attached to a
// removed phrase moves to the previous kept word so clause boundaries
// survive, unless that word already ends a clause.
func stripFillers(s string) string {
	words := strings.Fields(s)
	kept := make([]string, 0, len(words))

	for i := 0; i < len(words); {
		n, comma := matchFiller(words, i)
		if n == 0 {
			kept = append(kept, words[i])
			i++
			continue
		}
		if comma && len(kept) > 0 && !strings.HasSuffix(kept[len(kept)-1], ",") {
			kept[len(kept)-1] += ","
		}
		i += n
	}
	return strings.Join(kept, " ")
}

// matchFiller reports how many words starting at i form a filler phrase
// and whether the last of them carried a trailing comma.
func matchFiller(words []string, i int) (int, bool) {
	for _, phrase := range fillerTokens {
		if i+len(phrase) > len(words) {
			continue
		}
		matched := true
		comma := false
		for j, tok := range phrase {
			w := words[i+j]
			last := j == len(phrase)-1
			if strings.HasSuffix(w, ",") {
				if !last {
					matched = false
					break
				}
				comma = true
				w = strings.TrimSuffix(w, ",")
			}
			if !strings.EqualFold(w, tok) {
				matched = false
				break
			}
		}
		if matched {
			return len(phrase), comma
		}
	}
	return 0, false
}

// splitClauses splits on ", " only, so commas inside a clause such as
// "1,000" stay put. Stray commas at clause edges are dropped.
func splitClauses(s string) []string {
	raw := strings.Split(s, ", ")
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		c = normalize(strings.Trim(c, ", "))
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func dedupeClauses(clauses []string) []string {
	seen := make(map[string]struct{}, len(clauses))
	out := make([]string, 0, len(clauses))
	for _, c := range clauses {
		key := strings.ToLower(c)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// truncateWords cuts s to maxLength runes, backing off to the last space
// when one is close to the cut.
func truncateWords(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	cut := string(runes[:maxLength])
	if idx := strings.LastIndex(cut, " "); idx > 0 && utf8.RuneCountInString(cut[:idx]) > maxLength-40 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, ", ")
}

// tokenizePhrases splits phrases into lowercase words, longest first so
// "ultra high quality" wins over "high quality".
func tokenizePhrases(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		out = append(out, strings.Fields(strings.ToLower(p)))
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

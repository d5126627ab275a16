package vidhi

import (
	"sort"
	"strings"
	"unicode"
)

// actionVerbs is the curated verb set trigger mining keys on. A trigger is a
// verb followed by one or two object words from the same request.
var actionVerbs = map[string]bool{
	"add": true, "analyze": true, "build": true, "check": true, "clean": true,
	"create": true, "debug": true, "delete": true, "deploy": true, "edit": true,
	"find": true, "fix": true, "format": true, "generate": true, "implement": true,
	"inspect": true, "install": true, "list": true, "migrate": true, "move": true,
	"open": true, "read": true, "refactor": true, "remove": true, "rename": true,
	"review": true, "run": true, "search": true, "test": true, "update": true,
	"verify": true, "write": true,
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "can": true, "could": true, "do": true,
	"for": true, "from": true, "has": true, "have": true, "i": true, "in": true,
	"is": true, "it": true, "me": true, "my": true, "of": true, "on": true,
	"or": true, "our": true, "please": true, "should": true, "so": true,
	"that": true, "the": true, "then": true, "this": true, "to": true,
	"up": true, "us": true, "we": true, "will": true, "with": true, "you": true,
}

const maxTriggers = 10

// mineTriggers extracts verb+object bigrams and verb+object+object trigrams
// from the user requests that preceded the mined sequences, keeping the ten
// most frequent.
func mineTriggers(contexts []string) []string {
	counts := make(map[string]int)
	for _, text := range contexts {
		tokens := tokenize(text)
		for i, tok := range tokens {
			if !actionVerbs[tok] {
				continue
			}
			if i+1 < len(tokens) {
				counts[tok+" "+tokens[i+1]]++
			}
			if i+2 < len(tokens) {
				counts[tok+" "+tokens[i+1]+" "+tokens[i+2]]++
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}

	triggers := make([]string, 0, len(counts))
	for t := range counts {
		triggers = append(triggers, t)
	}
	sort.Slice(triggers, func(i, j int) bool {
		if counts[triggers[i]] != counts[triggers[j]] {
			return counts[triggers[i]] > counts[triggers[j]]
		}
		return triggers[i] < triggers[j]
	})
	if len(triggers) > maxTriggers {
		triggers = triggers[:maxTriggers]
	}
	return triggers
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}

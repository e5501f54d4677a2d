package search

import (
	"strconv"
	"strings"
)

const defaultLimit = 10

// Query represents the structured parameters of a message search.
// It decouples the raw chat input from the actual index engine requirements.
type Query struct {
	RawInput string // The original line typed by the user
	Terms    string // The actual text to match in message bodies
	Author   string // Exact author display name, empty for any
	Kind     string // Restrict to one event kind, empty for any
	Limit    int    // Maximum number of hits
}

// NewSearchQuery parses a raw string to extract command-line style arguments.
// Example: /search "lunch plans" --author alice --limit 5
func NewSearchQuery(input string) *Query {
	query := &Query{
		RawInput: input,
		Limit:    defaultLimit,
	}

	parts := strings.Fields(input)
	var textTerms []string

	for i := 0; i < len(parts); i++ {
		part := parts[i]

		if strings.HasPrefix(part, "--") && i+1 < len(parts) {
			key := strings.TrimPrefix(part, "--")
			val := parts[i+1]

			switch key {
			case "author":
				query.Author = val
			case "kind":
				query.Kind = val
			case "limit":
				if n, err := strconv.Atoi(val); err == nil && n > 0 {
					query.Limit = n
				}
			}
			i++ // Skip the value part in next iteration
			continue
		}

		// If it's not a flag nor the command itself, it's a search term
		if !strings.HasPrefix(part, "/") {
			textTerms = append(textTerms, strings.Trim(part, `"`))
		}
	}

	query.Terms = strings.Join(textTerms, " ")
	return query
}

func (q *Query) IsEmpty() bool {
	return q.Terms == "" && q.Author == ""
}

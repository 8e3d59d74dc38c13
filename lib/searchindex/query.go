package searchindex

import (
	"strings"
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// Query is a parsed search query: operator filters plus free-text terms.
// Unknown operators and anything that fails to parse as an operator value
// fall back to a literal free term rather than an error — a query string a
// user actually typed should never be rejected outright.
type Query struct {
	FreeTerms     []string
	From          []string
	To            []string
	Subject       []string
	In            []model.LabelID
	IsUnread      *bool
	IsStarred     *bool
	HasAttachment bool
	Before        *time.Time
	After         *time.Time
}

// ParseQuery tokenizes raw into operator clauses and free terms. Operator
// values are either a single whitespace-delimited word or, when quoted,
// everything up to the matching close quote (so "subject:\"weekly digest\""
// keeps its embedded space). Labels named by in: normalize case-
// insensitively to their canonical system ID where one exists; anything
// else is passed through as written, since user labels are arbitrary
// strings.
func ParseQuery(raw string) Query {
	var q Query
	for _, tok := range tokenize(raw) {
		op, val, ok := splitOperator(tok)
		if !ok {
			q.FreeTerms = append(q.FreeTerms, tok)
			continue
		}
		switch op {
		case "from":
			q.From = append(q.From, val)
		case "to":
			q.To = append(q.To, val)
		case "subject":
			q.Subject = append(q.Subject, val)
		case "in":
			q.In = append(q.In, canonicalLabel(val))
		case "is":
			applyIs(&q, val)
		case "has":
			if strings.EqualFold(val, "attachment") {
				q.HasAttachment = true
			} else {
				q.FreeTerms = append(q.FreeTerms, tok)
			}
		case "before":
			if t, ok := parseQueryDate(val); ok {
				q.Before = &t
			} else {
				q.FreeTerms = append(q.FreeTerms, tok)
			}
		case "after":
			if t, ok := parseQueryDate(val); ok {
				q.After = &t
			} else {
				q.FreeTerms = append(q.FreeTerms, tok)
			}
		default:
			// Unknown operator: treated as a literal term, colon and all.
			q.FreeTerms = append(q.FreeTerms, tok)
		}
	}
	return q
}

func applyIs(q *Query, val string) {
	t, f := true, false
	switch strings.ToLower(val) {
	case "unread":
		q.IsUnread = &t
	case "read":
		q.IsUnread = &f
	case "starred":
		q.IsStarred = &t
	default:
		q.FreeTerms = append(q.FreeTerms, "is:"+val)
	}
}

func canonicalLabel(val string) model.LabelID {
	switch strings.ToUpper(val) {
	case "INBOX":
		return model.LabelInbox
	case "SENT":
		return model.LabelSent
	case "DRAFT", "DRAFTS":
		return model.LabelDraft
	case "TRASH":
		return model.LabelTrash
	case "SPAM":
		return model.LabelSpam
	case "STARRED":
		return model.LabelStarred
	case "IMPORTANT":
		return model.LabelImportant
	case "UNREAD":
		return model.LabelUnread
	default:
		return model.LabelID(val)
	}
}

func parseQueryDate(val string) (time.Time, bool) {
	for _, layout := range []string{"2006/01/02", "2006-01-02"} {
		if t, err := time.Parse(layout, val); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitOperator reports whether tok is "operator:value" for one of the
// recognized operator names, lowercased for matching but with val returned
// verbatim.
func splitOperator(tok string) (op, val string, ok bool) {
	i := strings.IndexByte(tok, ':')
	if i <= 0 || i == len(tok)-1 {
		return "", "", false
	}
	name := strings.ToLower(tok[:i])
	switch name {
	case "from", "to", "subject", "in", "is", "has", "before", "after":
		return name, tok[i+1:], true
	default:
		return "", "", false
	}
}

// tokenize splits raw on whitespace, except inside double quotes, which are
// stripped from the resulting token. A quote that spans an operator
// ("subject:\"weekly digest\"") keeps the operator prefix attached.
func tokenize(raw string) []string {
	var toks []string
	var cur strings.Builder
	inQuote := false
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range raw {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' || r == '\t' || r == '\n':
			if inQuote {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

// ftsEscape quotes a term for safe embedding in an FTS5 MATCH string,
// doubling any embedded quote the way FTS5's own string literal syntax
// requires.
func ftsEscape(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

func quoteList(terms []string) string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = ftsEscape(t)
	}
	return strings.Join(out, " OR ")
}

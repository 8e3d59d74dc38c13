package searchindex

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// Hit is one message-level match, already grouped to its thread's best
// score. Thread/message summaries are joined back from the relational
// store by the caller; the index itself only knows FTS rowids and the
// companion columns stored alongside them.
type Hit struct {
	AccountID  model.AccountID
	ThreadID   string
	MessageID  string
	Score      float64
	Highlights []model.Highlight
}

// freeTextColumns are the columns a bare term (no operator) matches
// against, per the disjunction the query language promises.
var freeTextColumns = []string{"subject", "body_text", "snippet", "from_name", "from_email"}

// Search runs q against the index, optionally scoped to one account,
// capped at limit hits grouped by thread (best score wins a tie). Ties in
// score break by received_at_ms descending.
func (ix *Index) Search(ctx context.Context, account *model.AccountID, raw string, limit int) ([]Hit, error) {
	q := ParseQuery(raw)

	matchExpr := buildMatchExpr(q)
	var (
		query string
		args  []any
	)
	if matchExpr != "" {
		query = `
			SELECT rowid, bm25(message_search), account_id, thread_id, message_id, labels,
				received_at_ms, is_unread, is_starred, has_attachment, subject, body_text, snippet, from_name, from_email
			FROM message_search WHERE message_search MATCH ?`
		args = append(args, matchExpr)
	} else {
		query = `
			SELECT rowid, 0.0, account_id, thread_id, message_id, labels,
				received_at_ms, is_unread, is_starred, has_attachment, subject, body_text, snippet, from_name, from_email
			FROM message_search WHERE 1=1`
	}
	if account != nil {
		query += ` AND account_id = ?`
		args = append(args, *account)
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "searchindex: search")
	}
	defer rows.Close()

	type row struct {
		hit                                Hit
		labels                             string
		receivedAtMs                       int64
		isUnread, isStarred, hasAttach     int
		subject, body, snip, fname, femail string
	}
	var all []row
	for rows.Next() {
		var rowid int64
		var r row
		if err := rows.Scan(&rowid, &r.hit.Score, &r.hit.AccountID, &r.hit.ThreadID, &r.hit.MessageID, &r.labels,
			&r.receivedAtMs, &r.isUnread, &r.isStarred, &r.hasAttach, &r.subject, &r.body, &r.snip, &r.fname, &r.femail); err != nil {
			return nil, errors.Wrap(err, "searchindex: scan")
		}
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var filtered []row
	for _, r := range all {
		if !postFilterMatch(q, r.labels, r.isUnread != 0, r.isStarred != 0, r.hasAttach != 0, r.receivedAtMs) {
			continue
		}
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].hit.Score != filtered[j].hit.Score {
			// bm25() returns lower-is-better; present results best-first.
			return filtered[i].hit.Score < filtered[j].hit.Score
		}
		return filtered[i].receivedAtMs > filtered[j].receivedAtMs
	})

	terms := append(append([]string{}, q.FreeTerms...), q.From...)
	terms = append(append(terms, q.To...), q.Subject...)

	best := make(map[string]int) // thread_id -> index into out
	var out []Hit
	for _, r := range filtered {
		r.hit.Highlights = highlights(terms, map[string]string{
			"subject":    r.subject,
			"body_text":  r.body,
			"snippet":    r.snip,
			"from_name":  r.fname,
			"from_email": r.femail,
		})
		if idx, ok := best[r.hit.ThreadID]; ok {
			if r.hit.Score < out[idx].Score {
				out[idx] = r.hit
			}
			continue
		}
		best[r.hit.ThreadID] = len(out)
		out = append(out, r.hit)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func buildMatchExpr(q Query) string {
	var clauses []string
	if len(q.FreeTerms) > 0 {
		clauses = append(clauses, "{"+strings.Join(freeTextColumns, " ")+"}: ("+quoteList(q.FreeTerms)+")")
	}
	if len(q.From) > 0 {
		clauses = append(clauses, "{from_name from_email}: ("+quoteList(q.From)+")")
	}
	if len(q.To) > 0 {
		clauses = append(clauses, "to_addr: ("+quoteList(q.To)+")")
	}
	if len(q.Subject) > 0 {
		clauses = append(clauses, "subject: ("+quoteList(q.Subject)+")")
	}
	return strings.Join(clauses, " AND ")
}

// postFilterMatch applies the operators FTS5 cannot express against
// UNINDEXED companion columns: in:, is:, has:attachment, before:/after:.
func postFilterMatch(q Query, labels string, isUnread, isStarred, hasAttachment bool, receivedAtMs int64) bool {
	for _, l := range q.In {
		if !strings.Contains(" "+labels+" ", " "+strings.ToLower(string(l))+" ") {
			return false
		}
	}
	if q.IsUnread != nil && *q.IsUnread != isUnread {
		return false
	}
	if q.IsStarred != nil && *q.IsStarred != isStarred {
		return false
	}
	if q.HasAttachment && !hasAttachment {
		return false
	}
	if q.Before != nil && receivedAtMs >= q.Before.UnixMilli() {
		return false
	}
	if q.After != nil && receivedAtMs <= q.After.UnixMilli() {
		return false
	}
	return true
}

// highlights finds, for each term, every case-insensitive occurrence in
// each field, reported as a character range. This is the simple
// complement to FTS5's own highlight(): ranges rather than marked-up text,
// so hosts can render context however they like.
func highlights(terms []string, fields map[string]string) []model.Highlight {
	var out []model.Highlight
	for field, text := range fields {
		if text == "" {
			continue
		}
		lower := strings.ToLower(text)
		for _, term := range terms {
			term = strings.ToLower(strings.Trim(term, `"`))
			if term == "" {
				continue
			}
			start := 0
			for {
				idx := strings.Index(lower[start:], term)
				if idx < 0 {
					break
				}
				from := start + idx
				out = append(out, model.Highlight{Field: field, Start: from, End: from + len(term)})
				start = from + len(term)
			}
		}
	}
	return out
}

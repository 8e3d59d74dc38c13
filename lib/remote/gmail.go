package remote

import (
	"context"
	"encoding/base64"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/hunterclarke/cosmos/lib/credential"
	"github.com/hunterclarke/cosmos/lib/model"
)

// Per-call quota costs, see https://developers.google.com/gmail/api/v1/reference/quota,
// the same table gotmuch's internal/gmail keys its limiter off of.
const (
	quotaMessagesGet  = 5
	quotaMessagesList = 1
	quotaHistoryList  = 2
	quotaLabelsList   = 1
	quotaModify       = 5

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond

	maxRetries      = 8
	backoffStart    = time.Second
	backoffCapped   = 2 * time.Minute
	backoffJitterPc = 0.25
)

// GmailRemote is the concrete Remote implementation speaking to the Gmail
// REST API, adapted from outtake's restGmailService and gotmuch's
// GmailService: a shared rate.Limiter guards quota, and a
// credential.Port supplies and refreshes bearer tokens per account.
type GmailRemote struct {
	credentials credential.Port
	limiter     *rate.Limiter
}

var _ Remote = (*GmailRemote)(nil)

// NewGmailRemote constructs a Remote backed by the live Gmail API.
func NewGmailRemote(credentials credential.Port) *GmailRemote {
	return &GmailRemote{
		credentials: credentials,
		limiter:     rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
	}
}

func (g *GmailRemote) serviceFor(ctx context.Context, token credential.Token) (*gmail.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Bearer, Expiry: token.ExpiresAt})
	client := oauth2.NewClient(ctx, src)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, errors.Wrap(model.ErrInternal, err.Error())
	}
	return svc, nil
}

// withRetry runs fn with a fresh token, retrying on transient failure:
// exponential backoff with jitter on 5xx/network errors, Retry-After-
// honoring backoff on 429, a single token refresh on 401, and no retry at
// all on any other 4xx.
func (g *GmailRemote) withRetry(ctx context.Context, account model.AccountID, cost int, fn func(ctx context.Context, svc *gmail.Service) error) error {
	token, err := g.credentials.GetToken(ctx, account)
	if err != nil {
		return errors.Wrap(model.ErrAuth, err.Error())
	}
	refreshed := false
	delay := backoffStart

	for attempt := 0; ; attempt++ {
		if err := g.limiter.WaitN(ctx, cost); err != nil {
			return errors.Wrap(model.ErrCancelled, err.Error())
		}
		svc, err := g.serviceFor(ctx, token)
		if err != nil {
			return err
		}
		callErr := fn(ctx, svc)
		if callErr == nil {
			return nil
		}

		gerr, ok := callErr.(*googleapi.Error)
		if !ok {
			if attempt >= maxRetries {
				return errors.Wrap(model.ErrNetwork, callErr.Error())
			}
			if !sleepBackoff(ctx, &delay) {
				return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
			}
			continue
		}

		switch {
		case gerr.Code == http.StatusUnauthorized:
			if refreshed {
				return errors.Wrap(model.ErrAuth, gerr.Error())
			}
			token, err = g.credentials.Refresh(ctx, account)
			if err != nil {
				return errors.Wrap(model.ErrAuth, err.Error())
			}
			refreshed = true
			continue
		case gerr.Code == http.StatusTooManyRequests:
			if attempt >= maxRetries {
				return errors.Wrap(model.ErrRateLimited, gerr.Error())
			}
			if wait := retryAfter(gerr); wait > 0 {
				if !sleepFor(ctx, wait) {
					return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
				}
			} else if !sleepBackoff(ctx, &delay) {
				return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
			}
			continue
		case gerr.Code >= 500:
			if attempt >= maxRetries {
				return errors.Wrap(model.ErrNetwork, gerr.Error())
			}
			if !sleepBackoff(ctx, &delay) {
				return errors.Wrap(model.ErrCancelled, ctx.Err().Error())
			}
			continue
		default:
			return errors.Wrap(model.ErrParse, gerr.Error())
		}
	}
}

func retryAfter(gerr *googleapi.Error) time.Duration {
	for _, h := range gerr.Header["Retry-After"] {
		if secs, err := strconv.Atoi(h); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func sleepBackoff(ctx context.Context, delay *time.Duration) bool {
	jitter := time.Duration(float64(*delay) * backoffJitterPc * (rand.Float64()*2 - 1))
	ok := sleepFor(ctx, *delay+jitter)
	*delay *= 2
	if *delay > backoffCapped {
		*delay = backoffCapped
	}
	return ok
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func toLabelIDs(ss []string) []model.LabelID {
	out := make([]model.LabelID, len(ss))
	for i, s := range ss {
		out[i] = model.LabelID(s)
	}
	return out
}

func fromLabelIDs(ls []model.LabelID) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = string(l)
	}
	return out
}

func (g *GmailRemote) ListMessageIDs(ctx context.Context, account model.AccountID, pageToken string) ([]string, string, uint64, error) {
	var ids []string
	var next string
	var cursor uint64
	err := g.withRetry(ctx, account, quotaMessagesList, func(ctx context.Context, svc *gmail.Service) error {
		call := svc.Users.Messages.List("me").Q("-in:chats").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		ids = make([]string, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		next = resp.NextPageToken

		profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		cursor = profile.HistoryId
		return nil
	})
	return ids, next, cursor, err
}

func (g *GmailRemote) GetMessageFull(ctx context.Context, account model.AccountID, remoteID string) (model.RawMessage, error) {
	var rm model.RawMessage
	err := g.withRetry(ctx, account, quotaMessagesGet, func(ctx context.Context, svc *gmail.Service) error {
		msg, err := svc.Users.Messages.Get("me", remoteID).Format("raw").Context(ctx).Do()
		if err != nil {
			return err
		}
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		if err != nil {
			return errors.Wrap(model.ErrParse, err.Error())
		}
		parsed, err := parseRawMessage(msg.Id, msg.ThreadId, toLabelIDs(msg.LabelIds), msg.HistoryId, msg.InternalDate, raw)
		if err != nil {
			// A body that doesn't even frame as RFC 822 still yields a
			// message: Gmail's own snippet stands in for the body text.
			parsed = model.RawMessage{
				RemoteID:       msg.Id,
				ThreadRemoteID: msg.ThreadId,
				Labels:         toLabelIDs(msg.LabelIds),
				HistoryID:      msg.HistoryId,
				InternalDate:   msg.InternalDate,
				ReceivedAt:     msg.InternalDate,
				BodyText:       msg.Snippet,
			}
		}
		rm = parsed
		return nil
	})
	return rm, err
}

func (g *GmailRemote) ListHistory(ctx context.Context, account model.AccountID, sinceCursor uint64, pageToken string) ([]model.HistoryEvent, string, uint64, error) {
	var events []model.HistoryEvent
	var next string
	cursor := sinceCursor
	err := g.withRetry(ctx, account, quotaHistoryList, func(ctx context.Context, svc *gmail.Service) error {
		call := svc.Users.History.List("me").StartHistoryId(sinceCursor).
			HistoryTypes("messageAdded", "labelAdded", "labelRemoved", "messageDeleted").Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == http.StatusNotFound && pageToken == "" && sinceCursor > 0 {
				return errors.Wrap(model.ErrHistoryExpired, gerr.Error())
			}
			return err
		}
		events = make([]model.HistoryEvent, 0, len(resp.History))
		for _, h := range resp.History {
			if h.Id > cursor {
				cursor = h.Id
			}
			for _, a := range h.MessagesAdded {
				events = append(events, model.HistoryEvent{
					Type:      model.HistoryAdded,
					MessageID: a.Message.Id,
					ThreadID:  a.Message.ThreadId,
					LabelsAdded: toLabelIDs(a.Message.LabelIds),
				})
			}
			for _, d := range h.MessagesDeleted {
				events = append(events, model.HistoryEvent{
					Type:      model.HistoryDeleted,
					MessageID: d.Message.Id,
					ThreadID:  d.Message.ThreadId,
				})
			}
			for _, la := range h.LabelsAdded {
				events = append(events, model.HistoryEvent{
					Type:        model.HistoryLabelsChanged,
					MessageID:   la.Message.Id,
					ThreadID:    la.Message.ThreadId,
					LabelsAdded: toLabelIDs(la.LabelIds),
				})
			}
			for _, lr := range h.LabelsRemoved {
				events = append(events, model.HistoryEvent{
					Type:          model.HistoryLabelsChanged,
					MessageID:     lr.Message.Id,
					ThreadID:      lr.Message.ThreadId,
					LabelsRemoved: toLabelIDs(lr.LabelIds),
				})
			}
		}
		next = resp.NextPageToken
		return nil
	})
	return events, next, cursor, err
}

func (g *GmailRemote) ListLabels(ctx context.Context, account model.AccountID) ([]model.Label, error) {
	var labels []model.Label
	err := g.withRetry(ctx, account, quotaLabelsList, func(ctx context.Context, svc *gmail.Service) error {
		resp, err := svc.Users.Labels.List("me").Context(ctx).Do()
		if err != nil {
			return err
		}
		labels = make([]model.Label, 0, len(resp.Labels))
		for _, l := range resp.Labels {
			typ := model.LabelTypeUser
			if l.Type == "system" {
				typ = model.LabelTypeSystem
			}
			labels = append(labels, model.Label{
				ID:     model.LabelID(l.Id),
				Name:   l.Name,
				Type:   typ,
				Total:  int(l.MessagesTotal),
				Unread: int(l.MessagesUnread),
			})
		}
		return nil
	})
	return labels, err
}

func (g *GmailRemote) ModifyLabels(ctx context.Context, account model.AccountID, messageOrThreadID string, add, remove []model.LabelID) error {
	return g.withRetry(ctx, account, quotaModify, func(ctx context.Context, svc *gmail.Service) error {
		req := &gmail.ModifyMessageRequest{
			AddLabelIds:    fromLabelIDs(add),
			RemoveLabelIds: fromLabelIDs(remove),
		}
		_, err := svc.Users.Messages.Modify("me", messageOrThreadID, req).Context(ctx).Do()
		return err
	})
}

package syncengine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/blobstore"
	"github.com/hunterclarke/cosmos/lib/model"
)

// resolved is one message pulled from the remote, ready to be written into
// the relational store and the search index.
type resolved struct {
	remoteID string
	raw      model.RawMessage
	err      error // non-nil if get_message_full failed for this remote ID
}

// storeBlobs writes the message's text/HTML bodies into the blob store and
// returns their hex digests, empty string for an absent body.
func (e *Engine) storeBlobs(text, html string) (textHash, htmlHash string, err error) {
	if text != "" {
		h, err := e.blobs.Put([]byte(text))
		if err != nil {
			return "", "", errors.Wrap(err, "syncengine: store body text")
		}
		textHash = blobstore.HashString(h)
	}
	if html != "" {
		h, err := e.blobs.Put([]byte(html))
		if err != nil {
			return "", "", errors.Wrap(err, "syncengine: store body html")
		}
		htmlHash = blobstore.HashString(h)
	}
	return textHash, htmlHash, nil
}

func snippetFrom(raw model.RawMessage) string {
	const maxLen = 200
	s := raw.BodyText
	if s == "" {
		s = raw.Subject
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func labelSet(labels []model.LabelID) map[model.LabelID]struct{} {
	out := make(map[model.LabelID]struct{}, len(labels))
	for _, l := range labels {
		out[l] = struct{}{}
	}
	return out
}

package remote

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/hunterclarke/cosmos/lib/model"
)

// parseAddressList splits an address-list header into EmailAddresses. A
// header that fails to parse degrades to a single entry with Email set to
// the raw header text and Name empty — an unparsable header is not a fatal
// error.
func parseAddressList(header string) []model.EmailAddress {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(header)
	if err != nil {
		return []model.EmailAddress{{Email: header}}
	}
	out := make([]model.EmailAddress, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, model.EmailAddress{Name: a.Name, Email: a.Address})
	}
	return out
}

func parseAddress(header string) model.EmailAddress {
	addrs := parseAddressList(header)
	if len(addrs) == 0 {
		return model.EmailAddress{}
	}
	return addrs[0]
}

func decodeWords(s string) string {
	dec := new(mime.WordDecoder)
	out, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return out
}

// decodePart applies the part's declared Content-Transfer-Encoding and
// returns the decoded bytes. An unknown/absent encoding is treated as
// identity, since most plain-text parts omit the header entirely.
func decodePart(encoding string, r io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// walkParts descends a MIME part tree, collecting the first text/plain and
// text/html bodies found and noting whether any part looks like an
// attachment. It never returns an error: a part that fails to decode is
// simply skipped, since one malformed MIME part should not sink the whole
// message.
func walkParts(mediaType string, params map[string]string, header mail.Header, body io.Reader, text, html *string, hasAttachment *bool) {
	disposition := header.Get("Content-Disposition")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(disposition)), "attachment") {
		*hasAttachment = true
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		switch mediaType {
		case "text/plain":
			if *text == "" {
				if b, err := decodePart(header.Get("Content-Transfer-Encoding"), body); err == nil {
					*text = string(b)
				}
			}
		case "text/html":
			if *html == "" {
				if b, err := decodePart(header.Get("Content-Transfer-Encoding"), body); err == nil {
					*html = string(b)
				}
			}
		default:
			if _, ok := params["name"]; ok {
				*hasAttachment = true
			}
		}
		return
	}

	boundary := params["boundary"]
	if boundary == "" {
		return
	}
	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		ct := part.Header.Get("Content-Type")
		pMediaType, pParams, err := mime.ParseMediaType(ct)
		if err != nil {
			pMediaType = "text/plain"
			pParams = nil
		}
		walkParts(pMediaType, pParams, mail.Header(part.Header), part, text, html, hasAttachment)
	}
}

// parseRawMessage defensively parses an RFC 822 message into a RawMessage.
// Headers that are absent or malformed degrade to zero values rather than
// returning an error; only a body that cannot be framed as a mail.Message
// at all is reported.
func parseRawMessage(remoteID, threadID string, labels []model.LabelID, historyID uint64, internalDateMs int64, raw []byte) (model.RawMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return model.RawMessage{}, err
	}

	rm := model.RawMessage{
		RemoteID:       remoteID,
		ThreadRemoteID: threadID,
		Labels:         labels,
		HistoryID:      historyID,
		InternalDate:   internalDateMs,
		Subject:        decodeWords(msg.Header.Get("Subject")),
		From:           parseAddress(decodeWords(msg.Header.Get("From"))),
		To:             parseAddressList(decodeWords(msg.Header.Get("To"))),
		CC:             parseAddressList(decodeWords(msg.Header.Get("Cc"))),
	}
	if d, err := msg.Header.Date(); err == nil {
		rm.ReceivedAt = d.UnixMilli()
	} else {
		rm.ReceivedAt = time.UnixMilli(internalDateMs).UnixMilli()
	}

	ct := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}
	var text, html string
	var hasAttachment bool
	walkParts(mediaType, params, mail.Header(msg.Header), msg.Body, &text, &html, &hasAttachment)
	rm.BodyText = text
	rm.BodyHTML = html
	rm.HasAttachment = hasAttachment
	return rm, nil
}

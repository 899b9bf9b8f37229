// Package classify decides whether a message header block belongs to a mailing list
// and extracts what the rest of the pipeline needs from it.
package classify

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/listsweep/internal/models"
)

// Result is the classification of one message header block.
type Result struct {
	IsNewsletter    bool
	ID              string
	MessageIDHeader string
	From            string
	FromEmail       string
	Subject         string
	Date            string
	Links           models.Links
}

var (
	bracketed = regexp.MustCompile(`<([^>]*)>`)
	address   = regexp.MustCompile(`<([^>]+)>`)

	wordDecoder = &mime.WordDecoder{
		CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
			r, err := charset.Reader(cs, input)
			if err != nil {
				// Unknown charsets are passed through and cleaned up afterwards.
				return input, nil
			}
			return r, nil
		},
	}
)

// Classify parses a raw RFC 5322 header block.
// Messages without a non-empty List-Unsubscribe header are not newsletters,
// and only IsNewsletter is set for them.
func Classify(raw []byte) (*Result, error) {
	if !bytes.HasSuffix(raw, []byte("\r\n\r\n")) && !bytes.HasSuffix(raw, []byte("\n\n")) {
		raw = append(append([]byte{}, raw...), "\r\n\r\n"...)
	}

	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	unsubscribe := strings.TrimSpace(h.Get("List-Unsubscribe"))
	if unsubscribe == "" {
		return &Result{}, nil
	}

	rawFrom := h.Get("From")
	rawDate := h.Get("Date")
	rawSubject := h.Get("Subject")
	messageID := h.Get("Message-Id")

	from := DecodeHeader(rawFrom)

	return &Result{
		IsNewsletter:    true,
		ID:              Fingerprint(messageID, rawFrom, rawDate, rawSubject),
		MessageIDHeader: messageID,
		From:            from,
		FromEmail:       ExtractAddress(from),
		Subject:         DecodeHeader(rawSubject),
		Date:            DecodeHeader(rawDate),
		Links:           ExtractLinks(unsubscribe),
	}, nil
}

// Fingerprint is the MD5 hex of the Message-ID header, or of From, Date and Subject
// concatenated when the message has no Message-ID.
func Fingerprint(messageID, from, date, subject string) string {
	source := messageID
	if source == "" {
		source = from + date + subject
	}
	sum := md5.Sum([]byte(source))
	return hex.EncodeToString(sum[:])
}

// ExtractLinks returns the angle-bracketed URIs of a List-Unsubscribe value, split by scheme.
// Anything that is neither http(s) nor mailto is dropped.
func ExtractLinks(value string) models.Links {
	links := models.Links{HTTP: []string{}, Mailto: []string{}}
	for _, m := range bracketed.FindAllStringSubmatch(value, -1) {
		link := strings.TrimSpace(m[1])
		lower := strings.ToLower(link)
		switch {
		case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
			links.HTTP = append(links.HTTP, link)
		case strings.HasPrefix(lower, "mailto:"):
			links.Mailto = append(links.Mailto, link)
		}
	}
	return links
}

// DecodeHeader decodes RFC 2047 encoded-words into valid UTF-8.
func DecodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		decoded = enmime.DecodeRFC2047(raw)
	}
	return strings.ToValidUTF8(decoded, "�")
}

// ExtractAddress returns the bracketed address of a From value, or the trimmed value itself.
func ExtractAddress(from string) string {
	if m := address.FindStringSubmatch(from); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(from)
}

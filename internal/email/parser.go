package email

import (
	"bytes"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailkan/pkg/types"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown Sender"
	ellipsis       = "..."
)

// dateLayouts are tried after net/mail when a Date header is malformed
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	"Mon, _2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon Jan _2 15:04:05 2006",
	time.RFC3339,
}

var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(cs string, input io.Reader) (io.Reader, error) {
		return charset.Reader(cs, input)
	},
}

// Header is the subset of message headers the board needs
type Header struct {
	Subject       string
	From          string
	To            string
	Date          time.Time
	DateEstimated bool
}

// Parser turns raw FETCH data into board messages
type Parser struct {
	previewLength int
	now           func() time.Time
	logger        *logrus.Logger
}

// NewParser creates a parser producing previews of at most previewLength runes
func NewParser(previewLength int, logger *logrus.Logger) *Parser {
	return &Parser{
		previewLength: previewLength,
		now:           time.Now,
		logger:        logger,
	}
}

// Parse converts raw into a Message owned by column/folder. A message
// without a UID cannot be addressed later and yields a ParseFailure.
func (p *Parser) Parse(raw RawMessage, column, folder string) (types.Message, error) {
	if raw.UID == 0 {
		return types.Message{}, &ParseFailure{SeqNum: raw.SeqNum, Reason: "missing uid"}
	}
	if len(raw.Literal) == 0 {
		return types.Message{}, &ParseFailure{SeqNum: raw.SeqNum, Reason: "empty message literal"}
	}

	headerBlock, body := splitMessage(raw.Literal)
	header := p.parseHeader(headerBlock, raw.InternalDate)

	text, html := p.parseBody(raw, body)
	now := p.now()

	return types.Message{
		ID:            uuid.NewString(),
		UID:           raw.UID,
		SeqNum:        raw.SeqNum,
		Subject:       header.Subject,
		From:          header.From,
		To:            header.To,
		Date:          header.Date,
		DateEstimated: header.DateEstimated,
		Text:          text,
		HTML:          html,
		Preview:       p.preview(text, html),
		Column:        column,
		Folder:        folder,
		FetchedAt:     now,
	}, nil
}

// ParseHeader extracts the header fields from a header-only fetch
func (p *Parser) ParseHeader(raw RawMessage) (Header, error) {
	if raw.UID == 0 {
		return Header{}, &ParseFailure{SeqNum: raw.SeqNum, Reason: "missing uid"}
	}
	headerBlock, _ := splitMessage(raw.Literal)
	return p.parseHeader(headerBlock, raw.InternalDate), nil
}

// parseHeader falls back to the server's INTERNALDATE, then to now, when the
// Date header is missing or unreadable. Either way the date is marked
// estimated. INTERNALDATE is stable across fetches, so re-syncing the same
// message keeps matching its stored record.
func (p *Parser) parseHeader(block []byte, internalDate time.Time) Header {
	fields := unfoldHeaders(block)

	h := Header{
		Subject: decodeHeader(fields["subject"]),
		From:    decodeHeader(fields["from"]),
		To:      decodeHeader(fields["to"]),
	}
	if h.Subject == "" {
		h.Subject = defaultSubject
	}
	if h.From == "" {
		h.From = defaultSender
	}

	if date, ok := parseDate(fields["date"]); ok {
		h.Date = date
	} else if !internalDate.IsZero() {
		h.Date = internalDate.UTC()
		h.DateEstimated = true
	} else {
		h.Date = p.now()
		h.DateEstimated = true
	}
	return h
}

func (p *Parser) parseBody(raw RawMessage, body []byte) (string, string) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw.Literal))
	if err != nil {
		p.logger.WithError(err).WithField("uid", raw.UID).Debug("Failed to parse with enmime, using raw body")
		return string(body), ""
	}
	return env.Text, env.HTML
}

// preview collapses whitespace and truncates to the configured rune budget
func (p *Parser) preview(text, html string) string {
	source := text
	if strings.TrimSpace(source) == "" && html != "" {
		plain, err := html2text.FromString(html, html2text.Options{TextOnly: true})
		if err != nil {
			plain = html
		}
		source = plain
	}

	collapsed := strings.Join(strings.Fields(source), " ")
	runes := []rune(collapsed)
	if len(runes) <= p.previewLength {
		return collapsed
	}
	return strings.TrimRight(string(runes[:p.previewLength-len(ellipsis)]), " ") + ellipsis
}

// splitMessage separates the header block from the body at the first blank line
func splitMessage(literal []byte) ([]byte, []byte) {
	crlf := bytes.Index(literal, []byte("\r\n\r\n"))
	lf := bytes.Index(literal, []byte("\n\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return literal[:crlf], literal[crlf+4:]
	case lf >= 0:
		return literal[:lf], literal[lf+2:]
	default:
		return literal, nil
	}
}

// unfoldHeaders joins continuation lines onto the header they continue and
// returns the first value of every header keyed by lower-cased name.
func unfoldHeaders(block []byte) map[string]string {
	var logical []string
	for _, line := range strings.Split(string(block), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(logical) > 0 {
			logical[len(logical)-1] += line
			continue
		}
		logical = append(logical, line)
	}

	fields := make(map[string]string, len(logical))
	for _, line := range logical {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if _, seen := fields[key]; seen {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// decodeHeader decodes RFC 2047 encoded words, keeping the raw value on error
func decodeHeader(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return strings.TrimSpace(decoded)
}

func parseDate(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(value); err == nil {
		return t, true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

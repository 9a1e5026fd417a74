// Package keyboard models inline keyboards independently of the Telegram
// SDK and owns the callback-data wire format "<verb>:<chat_id>".
//
// Callback data is decoded once, at the transport boundary, into an Action;
// everything downstream switches on Action.Kind instead of string prefixes.
package keyboard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of callback actions.
type Kind int

const (
	KindUnknown Kind = iota
	KindRetry
	KindExpand
	KindResendPhoto
	KindReport
)

var verbs = map[Kind]string{
	KindRetry:       "retry",
	KindExpand:      "expand",
	KindResendPhoto: "resend_photo",
	KindReport:      "report",
}

// String returns the wire verb.
func (k Kind) String() string {
	if v, ok := verbs[k]; ok {
		return v
	}
	return "unknown"
}

// ErrMalformed is returned for callback data that is not "<verb>:<chat_id>"
// with a known verb and an integer chat id.
var ErrMalformed = errors.New("keyboard: malformed callback data")

// Action is a decoded button press.
type Action struct {
	Kind   Kind
	ChatID int64
}

// String encodes the action in wire format.
func (a Action) String() string {
	return a.Kind.String() + ":" + strconv.FormatInt(a.ChatID, 10)
}

// Parse decodes callback data.
func Parse(data string) (Action, error) {
	verb, id, ok := strings.Cut(data, ":")
	if !ok {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %q", ErrMalformed, data)
	}
	for k, v := range verbs {
		if v == verb {
			return Action{Kind: k, ChatID: chatID}, nil
		}
	}
	return Action{}, fmt.Errorf("%w: unknown verb %q", ErrMalformed, verb)
}

// Button is one inline button.
type Button struct {
	Text   string
	Action Action
}

// Markup is an inline keyboard, row by row. A nil *Markup means "no
// keyboard"; an empty non-nil one removes an existing keyboard on edit.
type Markup struct {
	Rows [][]Button
}

// Remove returns markup that strips an existing keyboard.
func Remove() *Markup { return &Markup{} }

// Empty reports whether m has no buttons.
func (m *Markup) Empty() bool {
	if m == nil {
		return true
	}
	for _, r := range m.Rows {
		if len(r) > 0 {
			return false
		}
	}
	return true
}

// Button labels.
const (
	LabelReport      = "📨 Adminga xabar"
	LabelExpand      = "📝 To'liq javob"
	LabelResendPhoto = "🔁 Rasmni qayta yuborish"
)

// RetryLabel renders the retry button with the manual-attempt count.
func RetryLabel(attempts int) string {
	return fmt.Sprintf("↻ Qayta so‘rash (%d)", attempts)
}

// Retry builds the keyboard under an error message. With allowRetry false
// only the report button is left.
func Retry(chatID int64, attempts int, allowRetry bool) *Markup {
	report := Button{Text: LabelReport, Action: Action{Kind: KindReport, ChatID: chatID}}
	if !allowRetry {
		return &Markup{Rows: [][]Button{{report}}}
	}
	return &Markup{Rows: [][]Button{
		{{Text: RetryLabel(attempts), Action: Action{Kind: KindRetry, ChatID: chatID}}},
		{report},
	}}
}

// Expand builds the single "full answer" button.
func Expand(chatID int64) *Markup {
	return &Markup{Rows: [][]Button{{{Text: LabelExpand, Action: Action{Kind: KindExpand, ChatID: chatID}}}}}
}

// ResendPhoto is shown when OCR found no text.
func ResendPhoto(chatID int64) *Markup {
	return &Markup{Rows: [][]Button{
		{{Text: LabelResendPhoto, Action: Action{Kind: KindResendPhoto, ChatID: chatID}}},
		{{Text: LabelReport, Action: Action{Kind: KindReport, ChatID: chatID}}},
	}}
}

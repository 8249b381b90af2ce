package notification

import (
	"encoding/json"
	"fmt"
)

type flexBox struct {
	Type     string    `json:"type"`
	Layout   string    `json:"layout,omitempty"`
	Spacing  string    `json:"spacing,omitempty"`
	Contents []flexBox `json:"contents,omitempty"`
	Text     string    `json:"text,omitempty"`
	Weight   string    `json:"weight,omitempty"`
	Size     string    `json:"size,omitempty"`
	Color    string    `json:"color,omitempty"`
	Wrap     bool      `json:"wrap,omitempty"`
	Flex     int       `json:"flex,omitempty"`
}

type flexBubble struct {
	Type   string   `json:"type"`
	Header *flexBox `json:"header,omitempty"`
	Body   *flexBox `json:"body,omitempty"`
	Footer *flexBox `json:"footer,omitempty"`
}

// ReminderCard is the content of a reservation reminder card.
type ReminderCard struct {
	Title    string
	Name     string
	DateTime string
	Menu     string
	Note     string
}

// FlexReminder builds a LINE bubble for a reservation reminder.
func FlexReminder(card ReminderCard) (Message, error) {
	title := card.Title
	if title == "" {
		title = "ご予約のお知らせ"
	}

	rows := []flexBox{
		row("日時", card.DateTime),
	}
	if card.Menu != "" {
		rows = append(rows, row("内容", card.Menu))
	}

	body := &flexBox{
		Type:    "box",
		Layout:  "vertical",
		Spacing: "md",
		Contents: append([]flexBox{
			{Type: "text", Text: fmt.Sprintf("%s 様", card.Name), Weight: "bold", Size: "md", Wrap: true},
		}, rows...),
	}
	if card.Note != "" {
		body.Contents = append(body.Contents, flexBox{Type: "text", Text: card.Note, Size: "sm", Color: "#666666", Wrap: true})
	}

	bubble := flexBubble{
		Type: "bubble",
		Header: &flexBox{
			Type:     "box",
			Layout:   "vertical",
			Contents: []flexBox{{Type: "text", Text: title, Weight: "bold", Size: "lg", Color: "#1DB446"}},
		},
		Body: body,
	}

	contents, err := json.Marshal(bubble)
	if err != nil {
		return Message{}, fmt.Errorf("marshal flex: %w", err)
	}
	return Message{
		Type:     MessageFlex,
		AltText:  fmt.Sprintf("%s %s", title, card.DateTime),
		Contents: contents,
	}, nil
}

func row(label, value string) flexBox {
	return flexBox{
		Type:   "box",
		Layout: "baseline",
		Contents: []flexBox{
			{Type: "text", Text: label, Size: "sm", Color: "#aaaaaa", Flex: 1},
			{Type: "text", Text: value, Size: "sm", Wrap: true, Flex: 4},
		},
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hellotoday/hellotoday-client/internal/models"
)

// printer renders command results in the selected format. text is only
// used for FormatText.
type printer struct {
	format string
	w      io.Writer
	now    func() time.Time
}

func newPrinter(format string, w io.Writer) *printer {
	return &printer{format: format, w: w, now: time.Now}
}

func (p *printer) print(v any, text func(io.Writer) error) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case FormatYAML:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}

		return p.printYAML(data)
	default:
		return text(p.w)
	}
}

// printRaw renders a JSON document received from the server.
func (p *printer) printRaw(data json.RawMessage) error {
	switch p.format {
	case FormatYAML:
		return p.printYAML(data)
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			_, err = fmt.Fprintln(p.w, string(data))
			return err
		}

		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}
}

// printYAML re-encodes JSON as block-style YAML, keeping key order.
func (p *printer) printYAML(data []byte) error {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("converting to yaml: %w", err)
	}

	plain(&node)

	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)

	if err := enc.Encode(&node); err != nil {
		return err
	}

	return enc.Close()
}

// plain drops the flow and quoting styles JSON input parses with.
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}

func (p *printer) printSet(set *models.DailyMessageSet) error {
	return p.print(set, func(w io.Writer) error {
		if set == nil {
			_, err := fmt.Fprintln(w, "no messages")
			return err
		}

		if _, err := fmt.Fprintf(w, "%s: %s\n", set.Date, countLabel(len(set.Messages))); err != nil {
			return err
		}

		for _, m := range set.Messages {
			if _, err := fmt.Fprintf(w, "  %s\n", p.messageLine(m)); err != nil {
				return err
			}
		}

		return nil
	})
}

func (p *printer) messageLine(m models.Message) string {
	if m.CreatedAt.IsZero() {
		return fmt.Sprintf("[%s] %s", m.ID, m.Content)
	}

	return fmt.Sprintf("[%s] %s (%s)", m.ID, m.Content, humanize.RelTime(m.CreatedAt.Time, p.now(), "ago", "from now"))
}

func countLabel(n int) string {
	if n == 1 {
		return "1 message"
	}

	return humanize.Comma(int64(n)) + " messages"
}

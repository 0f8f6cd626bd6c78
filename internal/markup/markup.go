// Package markup implements Markup-Lite: plain text lines, pipe tables,
// **bold** and _italic_ spans.
package markup

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SpanKind is the style of an inline span
type SpanKind int

const (
	Plain SpanKind = iota
	Bold
	Italic
)

func (k SpanKind) String() string {
	switch k {
	case Bold:
		return "bold"
	case Italic:
		return "italic"
	default:
		return "plain"
	}
}

func (k SpanKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SpanKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "plain":
		*k = Plain
	case "bold":
		*k = Bold
	case "italic":
		*k = Italic
	default:
		return fmt.Errorf("unknown span kind %q", b)
	}
	return nil
}

// Span is a run of literal text with one style
type Span struct {
	Kind SpanKind `json:"kind"`
	Text string   `json:"text"`
}

// Cell is the content of one table cell
type Cell []Span

// Block is either a TextBlock or a TableBlock
type Block interface {
	isBlock()
}

// TextBlock is one line of text. An empty line has no spans.
type TextBlock struct {
	Spans []Span
}

// TableBlock is a header row plus body rows
type TableBlock struct {
	Header []Cell
	Rows   [][]Cell
}

func (TextBlock) isBlock()  {}
func (TableBlock) isBlock() {}

// Document is an ordered list of blocks
type Document struct {
	Blocks []Block
}

// P, B and I build spans
func P(text string) Span { return Span{Kind: Plain, Text: text} }
func B(text string) Span { return Span{Kind: Bold, Text: text} }
func I(text string) Span { return Span{Kind: Italic, Text: text} }

// Line builds a text block
func Line(spans ...Span) TextBlock {
	return TextBlock{Spans: spans}
}

// Cells builds a row of plain cells
func Cells(texts ...string) []Cell {
	row := make([]Cell, len(texts))
	for i, t := range texts {
		row[i] = Cell{P(t)}
	}
	return row
}

var boldRegex = regexp.MustCompile(`\*\*[^*]+\*\*`)

// Parse reads a Markup-Lite document. Every line that is not part of a table
// becomes its own text block, empty lines included.
func Parse(text string) Document {
	var doc Document
	var table *TableBlock

	flush := func() {
		if table != nil && table.Header != nil {
			doc.Blocks = append(doc.Blocks, *table)
		}
		table = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if !isPipeLine(trimmed) {
			flush()
			doc.Blocks = append(doc.Blocks, TextBlock{Spans: ParseInline(trimmed)})
			continue
		}
		if isSeparator(trimmed) {
			if table == nil {
				table = &TableBlock{}
			}
			continue
		}
		row := splitCells(trimmed)
		switch {
		case table == nil:
			table = &TableBlock{Header: row}
		case table.Header == nil:
			table.Header = row
		default:
			table.Rows = append(table.Rows, row)
		}
	}
	flush()
	return doc
}

func isPipeLine(trimmed string) bool {
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

func isSeparator(trimmed string) bool {
	return strings.IndexFunc(trimmed, func(r rune) bool {
		return r != '|' && r != '-' && !unicode.IsSpace(r)
	}) < 0
}

func splitCells(trimmed string) []Cell {
	parts := strings.Split(trimmed, "|")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	row := make([]Cell, len(parts))
	for i, p := range parts {
		row[i] = Cell(ParseInline(strings.TrimSpace(p)))
	}
	return row
}

// ParseInline splits text into bold, italic and plain spans. A plain run is
// italic only when the whole run is wrapped in underscores.
func ParseInline(text string) []Span {
	var spans []Span
	last := 0
	for _, loc := range boldRegex.FindAllStringIndex(text, -1) {
		spans = appendPlain(spans, text[last:loc[0]])
		spans = append(spans, B(text[loc[0]+2:loc[1]-2]))
		last = loc[1]
	}
	return appendPlain(spans, text[last:])
}

func appendPlain(spans []Span, s string) []Span {
	if s == "" {
		return spans
	}
	if utf8.RuneCountInString(s) > 2 && strings.HasPrefix(s, "_") && strings.HasSuffix(s, "_") {
		return append(spans, I(s[1:len(s)-1]))
	}
	return append(spans, P(s))
}

// String serializes the document back to Markup-Lite
func (d Document) String() string {
	lines := make([]string, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		switch b := b.(type) {
		case TextBlock:
			lines = append(lines, inlineString(b.Spans))
		case TableBlock:
			lines = append(lines, rowString(b.Header))
			sep := make([]string, len(b.Header))
			for i := range sep {
				sep[i] = "---"
			}
			lines = append(lines, "| "+strings.Join(sep, " | ")+" |")
			for _, row := range b.Rows {
				lines = append(lines, rowString(row))
			}
		}
	}
	return strings.Join(lines, "\n")
}

func rowString(row []Cell) string {
	cells := make([]string, len(row))
	for i, c := range row {
		cells[i] = inlineString(c)
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

func inlineString(spans []Span) string {
	var b strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case Bold:
			b.WriteString("**" + s.Text + "**")
		case Italic:
			b.WriteString("_" + s.Text + "_")
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

// Text returns the cell without markup
func (c Cell) Text() string {
	var b strings.Builder
	for _, s := range c {
		b.WriteString(s.Text)
	}
	return b.String()
}

type jsonBlock struct {
	Type   string   `json:"type"`
	Spans  []Span   `json:"spans,omitempty"`
	Header []Cell   `json:"header,omitempty"`
	Rows   [][]Cell `json:"rows,omitempty"`
}

// MarshalJSON writes blocks tagged with "type": "text" or "table"
func (d Document) MarshalJSON() ([]byte, error) {
	blocks := make([]jsonBlock, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		switch b := b.(type) {
		case TextBlock:
			blocks = append(blocks, jsonBlock{Type: "text", Spans: b.Spans})
		case TableBlock:
			blocks = append(blocks, jsonBlock{Type: "table", Header: b.Header, Rows: b.Rows})
		}
	}
	return json.Marshal(struct {
		Blocks []jsonBlock `json:"blocks"`
	}{blocks})
}

// UnmarshalJSON reads the form written by MarshalJSON
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		Blocks []jsonBlock `json:"blocks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Blocks = make([]Block, 0, len(raw.Blocks))
	for _, b := range raw.Blocks {
		switch b.Type {
		case "text":
			d.Blocks = append(d.Blocks, TextBlock{Spans: b.Spans})
		case "table":
			d.Blocks = append(d.Blocks, TableBlock{Header: b.Header, Rows: b.Rows})
		default:
			return fmt.Errorf("unknown block type %q", b.Type)
		}
	}
	return nil
}

// Package console draws Markup-Lite documents on a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"

	"github.com/edibez/cryptochat/internal/markup"
)

var (
	boldStyle   = color.New(color.Bold)
	italicStyle = color.New(color.Italic, color.FgHiBlack)
	headerStyle = color.New(color.FgCyan, color.Bold)
	ruleStyle   = color.New(color.FgHiBlack)
)

// Render writes doc to w. Tables are padded into aligned columns.
func Render(w io.Writer, doc markup.Document) error {
	for _, b := range doc.Blocks {
		var err error
		switch b := b.(type) {
		case markup.TextBlock:
			_, err = fmt.Fprintln(w, spans(b.Spans, nil))
		case markup.TableBlock:
			err = table(w, b)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func table(w io.Writer, t markup.TableBlock) error {
	widths := make([]int, len(t.Header))
	measure := func(row []markup.Cell) {
		for i, c := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if n := utf8.RuneCountInString(c.Text()); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.Header)
	for _, row := range t.Rows {
		measure(row)
	}

	if _, err := fmt.Fprintln(w, row(t.Header, widths, headerStyle)); err != nil {
		return err
	}
	rules := make([]string, len(widths))
	for i, n := range widths {
		rules[i] = strings.Repeat("─", n)
	}
	if _, err := fmt.Fprintln(w, ruleStyle.Sprint(strings.Join(rules, "─┼─"))); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if _, err := fmt.Fprintln(w, row(r, widths, nil)); err != nil {
			return err
		}
	}
	return nil
}

func row(cells []markup.Cell, widths []int, style *color.Color) string {
	out := make([]string, len(cells))
	for i, c := range cells {
		pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c.Text()))
		out[i] = spans(c, style) + pad
	}
	return strings.TrimRight(strings.Join(out, " │ "), " ")
}

// spans styles each span; base, when set, applies to plain text
func spans(ss []markup.Span, base *color.Color) string {
	var b strings.Builder
	for _, s := range ss {
		switch {
		case s.Kind == markup.Bold:
			b.WriteString(boldStyle.Sprint(s.Text))
		case s.Kind == markup.Italic:
			b.WriteString(italicStyle.Sprint(s.Text))
		case base != nil:
			b.WriteString(base.Sprint(s.Text))
		default:
			b.WriteString(s.Text)
		}
	}
	return b.String()
}

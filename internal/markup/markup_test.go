package markup

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestParseTable(t *testing.T) {
	doc := Parse("| Name | Price |\n| --- | --- |\n| BTC | 67234.12 |")

	want := Document{Blocks: []Block{
		TableBlock{
			Header: Cells("Name", "Price"),
			Rows:   [][]Cell{Cells("BTC", "67234.12")},
		},
	}}
	if !reflect.DeepEqual(doc, want) {
		t.Fatalf("Parse() = %+v, want %+v", doc, want)
	}
}

func TestParseBlocks(t *testing.T) {
	input := strings.Join([]string{
		"  Top movers  ",
		"",
		"|Coin|24h|",
		"|-|-|",
		"| **SOL** | +5.00% |",
		"| | N/A |",
		"Prices refresh every _2 minutes_",
		"| --- |",
		"|---|",
	}, "\n")

	doc := Parse(input)
	want := []Block{
		TextBlock{Spans: []Span{P("Top movers")}},
		TextBlock{},
		TableBlock{
			Header: Cells("Coin", "24h"),
			Rows: [][]Cell{
				{Cell{B("SOL")}, Cell{P("+5.00%")}},
				{Cell(nil), Cell{P("N/A")}},
			},
		},
		TextBlock{Spans: []Span{P("Prices refresh every _2 minutes_")}},
	}
	if !reflect.DeepEqual(doc.Blocks, want) {
		t.Fatalf("Parse() =\n%+v\nwant\n%+v", doc.Blocks, want)
	}
}

func TestParseInline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Span
	}{
		{"bold then plain", "**BTC** is up _today_", []Span{B("BTC"), P(" is up _today_")}},
		{"isolated italic", "_today_", []Span{I("today")}},
		{"italic after bold", "**BTC**_today_", []Span{B("BTC"), I("today")}},
		{"embedded underscores stay literal", "up _today_ only", []Span{P("up _today_ only")}},
		{"too short for italic", "__", []Span{P("__")}},
		{"several bold", "**a** and **b**", []Span{B("a"), P(" and "), B("b")}},
		{"unclosed bold", "**oops", []Span{P("**oops")}},
		{"empty bold is literal", "****", []Span{P("****")}},
		{"empty", "", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseInline(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseInline(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	doc := Document{Blocks: []Block{
		Line(P("Here are the "), B("top gainers"), P(":")),
		TableBlock{
			Header: Cells("Coin", "Price", "24h"),
			Rows: [][]Cell{
				{Cell{B("SOL")}, Cell{P("$142.10")}, Cell{P("+5.20%")}},
				Cells("ETH", "$3,120.55", "-1.05%"),
			},
		},
		TextBlock{},
		Line(I("Data from CoinGecko")),
	}}

	text := doc.String()
	again := Parse(text)
	if !reflect.DeepEqual(again, doc) {
		t.Fatalf("round trip changed the document:\n%s\n%+v", text, again)
	}
	if again.String() != text {
		t.Fatalf("serialization not stable:\n%s\n---\n%s", text, again.String())
	}
	if !strings.Contains(text, "| --- | --- | --- |") {
		t.Fatalf("missing separator row:\n%s", text)
	}
}

func TestDocumentJSON(t *testing.T) {
	doc := Parse("**Bitcoin**\n| Coin |\n| --- |\n| BTC |")

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"table"`) || !strings.Contains(string(data), `"kind":"bold"`) {
		t.Fatalf("unexpected JSON %s", data)
	}

	var back Document
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back.String() != doc.String() {
		t.Fatalf("JSON round trip changed document: %q vs %q", back.String(), doc.String())
	}
}

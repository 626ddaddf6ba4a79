//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

// Package txtfmt formats tables and attribute lists for terminal output.
package txtfmt

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const (
	missingValue = "-"
	attrIndent   = "  "
)

// TableRow is a map of string values to be printed, keyed by column title.
type TableRow map[string]string

// Attr is one attribute of an entity.
type Attr struct {
	Name  string
	Value string
}

// TableFormatter formats rows under labeled columns.
type TableFormatter struct {
	titles []string
}

// NewTableFormatter creates a TableFormatter with the given column titles.
func NewTableFormatter(columnTitles ...string) *TableFormatter {
	return &TableFormatter{titles: append([]string{}, columnTitles...)}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
}

// Fprint writes a header with the column titles followed by one line per
// row, filling only the requested columns in order.
func (t *TableFormatter) Fprint(out io.Writer, rows []TableRow) error {
	if len(t.titles) == 0 {
		return nil
	}

	tw := newTabWriter(out)
	fmt.Fprintln(tw, strings.Join(t.titles, "\t"))
	rules := make([]string, 0, len(t.titles))
	for _, title := range t.titles {
		rules = append(rules, strings.Repeat("-", len(title)))
	}
	fmt.Fprintln(tw, strings.Join(rules, "\t"))

	for _, row := range rows {
		cells := make([]string, 0, len(t.titles))
		for _, title := range t.titles {
			value, ok := row[title]
			if !ok || value == "" {
				value = missingValue
			}
			cells = append(cells, value)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	return tw.Flush()
}

// Format returns the table as a string.
func (t *TableFormatter) Format(rows []TableRow) string {
	var sb strings.Builder
	if err := t.Fprint(&sb, rows); err != nil {
		return err.Error()
	}
	return sb.String()
}

// FormatEntity returns a titled, indented list of attributes, one per line,
// with the values aligned.
func FormatEntity(title string, attrs []Attr) string {
	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "%s\n%s\n", title, strings.Repeat("-", len(title)))
	}

	tw := newTabWriter(&sb)
	for _, attr := range attrs {
		value := attr.Value
		if value == "" {
			value = missingValue
		}
		fmt.Fprintf(tw, "%s%s:\t%s\n", attrIndent, attr.Name, value)
	}
	tw.Flush()

	return sb.String()
}

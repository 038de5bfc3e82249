package render

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/reflow/truncate"

	"github.com/prospectr/prospectctl/internal/chat"
	"github.com/prospectr/prospectctl/internal/theme"
)

const (
	// DefaultResultRows is how many rows Results prints when no limit is set.
	DefaultResultRows = 10
	maxCellWidth      = 32
	ellipsis          = "…"
)

type column struct {
	header string
	value  func(row map[string]any) string
}

var peopleColumns = []column{
	{"Name", personName},
	{"Title", field("title")},
	{"Company", field("company", "organization_name")},
	{"Location", field("location")},
}

var companyColumns = []column{
	{"Name", field("name")},
	{"Industry", field("industry")},
	{"Size", field("size")},
	{"Location", field("location")},
}

// Results renders a search snapshot as a headline plus a table of the first
// limit rows.
func Results(res *chat.ApolloResults, pal theme.Palette, opts Options, limit int) string {
	if res == nil {
		return ""
	}
	if limit <= 0 {
		limit = DefaultResultRows
	}

	kind := res.SearchType
	if kind == "" {
		kind = "results"
	}
	headline := fmt.Sprintf("Found %d %s, showing %d.", res.Total, kind, res.Returned)
	if len(res.Results) == 0 {
		return headline
	}

	cols := columnsFor(res)
	rows := res.Results[:min(limit, len(res.Results))]

	t := table.New().Border(lipgloss.NormalBorder())
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.header
	}
	t.Headers(headers...)
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = truncate.StringWithTail(c.value(row), maxCellWidth, ellipsis)
		}
		t.Row(cells...)
	}
	if opts.Width > 0 {
		t.Width(opts.Width)
	}

	if !opts.NoColor {
		header := pal.ForegroundStyle(theme.ColorPrimary).Bold(true).Padding(0, 1)
		cell := lipgloss.NewStyle().Padding(0, 1)
		t.BorderStyle(pal.ForegroundStyle(theme.ColorBorder))
		t.StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
		headline = pal.ForegroundStyle(theme.ColorAccent).Render(headline)
	} else {
		cell := lipgloss.NewStyle().Padding(0, 1)
		t.StyleFunc(func(int, int) lipgloss.Style { return cell })
	}

	var b strings.Builder
	b.WriteString(headline)
	b.WriteString("\n")
	b.WriteString(t.Render())
	if more := len(res.Results) - len(rows); more > 0 {
		fmt.Fprintf(&b, "\n%s %d more", ellipsis, more)
	}
	return b.String()
}

func columnsFor(res *chat.ApolloResults) []column {
	switch res.SearchType {
	case "people":
		return peopleColumns
	case "companies":
		return companyColumns
	}

	keys := slices.Sorted(maps.Keys(res.Results[0]))
	if len(keys) > 4 {
		keys = keys[:4]
	}
	cols := make([]column, len(keys))
	for i, k := range keys {
		cols[i] = column{header: k, value: field(k)}
	}
	return cols
}

// field returns the first non-empty value among keys.
func field(keys ...string) func(map[string]any) string {
	return func(row map[string]any) string {
		for _, k := range keys {
			if s := cellString(row[k]); s != "" {
				return s
			}
		}
		return ""
	}
}

func personName(row map[string]any) string {
	name := strings.TrimSpace(cellString(row["first_name"]) + " " + cellString(row["last_name"]))
	if name == "" {
		return cellString(row["name"])
	}
	return name
}

func cellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := cellString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(t)
	}
}

// ToolStatus describes a running tool in one line.
func ToolStatus(exec *chat.ToolExecution) string {
	if exec == nil {
		return ""
	}
	if len(exec.Input) == 0 {
		return fmt.Sprintf("Running %s", exec.Tool)
	}
	keys := slices.Sorted(maps.Keys(exec.Input))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := cellString(exec.Input[k])
		if v == "" {
			continue
		}
		parts = append(parts, k+"="+truncate.StringWithTail(v, 24, ellipsis))
	}
	return fmt.Sprintf("Running %s (%s)", exec.Tool, strings.Join(parts, ", "))
}

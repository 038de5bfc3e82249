package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
	"gopkg.in/yaml.v3"

	"github.com/prospectr/prospectctl/internal/chat"
)

const summaryTemplate = `{{ .Title | default "Untitled session" }} ({{ .ID }})
Status:   {{ .Status | toString | default "active" }}
Client:   {{ .ClientTag | default "-" }}
Created:  {{ dateInZone "2006-01-02 15:04" .CreatedAt "UTC" }}
Messages: {{ .MessageCount }}
Cost:     ${{ printf "%.4f" .TotalCostUSD }}
Credits:  {{ .APICredits }}
Tokens:   {{ .InputTokens }} in / {{ .OutputTokens }} out
{{- with .Metadata.LastSearch }}
Last search: {{ .Type }}, {{ .Returned }} of {{ .Count }}
{{- end }}
{{- with .Metadata.LastEnrichment }}
Last enrichment: {{ .Completed }} companies, {{ .EmailsFound }} emails
{{- end }}
{{- with .ICPDraft }}
ICP draft:
{{ icpYAML . | indent 2 }}
{{- end }}
`

var summary = template.Must(template.New("summary").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"icpYAML": icpYAML}).
	Option("missingkey=zero").
	Parse(summaryTemplate))

// Summary renders the human readable overview of a session.
func Summary(s *chat.Session) (string, error) {
	if s == nil {
		return "", fmt.Errorf("no session to summarise")
	}
	var buf bytes.Buffer
	if err := summary.Execute(&buf, s); err != nil {
		return "", fmt.Errorf("render session summary: %w", err)
	}
	return buf.String(), nil
}

func icpYAML(draft map[string]any) (string, error) {
	out, err := yaml.Marshal(draft)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\n"), nil
}

// Transcript renders the messages of a session, assistant text as markdown.
func Transcript(s *chat.Session, opts Options) string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for i, m := range s.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch m.Role {
		case chat.RoleAssistant:
			b.WriteString("Assistant:\n")
			b.WriteString(Markdown(m.Content, opts))
		case chat.RoleUser:
			b.WriteString("You: ")
			b.WriteString(m.Content)
			if m.HasAttachment {
				b.WriteString(" [attachment]")
			}
		default:
			fmt.Fprintf(&b, "[%s]", m.Role)
		}
	}
	return b.String()
}

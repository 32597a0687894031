package service

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Row is one parsed CSV line mapped onto the deal import shape. Columns the
// parser does not recognize land in Custom keyed by their original header.
type Row struct {
	Line        int
	ExternalID  string
	Name        string
	Value       string
	ContactName string
	Email       string
	Phone       string
	StageName   string
	Tags        []string
	Custom      map[string]string
}

// ParseResult is the outcome of a parsing pass. Rows lacking both an external
// id and a name are dropped and counted in Skipped, never reported as errors.
type ParseResult struct {
	Rows      []Row
	Skipped   int
	Delimiter rune
}

// Canonical column names and their accepted aliases. Headers are matched
// case-insensitively after trimming.
var headerAliases = map[string]string{
	"external_id":  "external_id",
	"externalid":   "external_id",
	"id":           "external_id",
	"name":         "name",
	"nome":         "name",
	"deal_name":    "name",
	"value":        "value",
	"valor":        "value",
	"amount":       "value",
	"contact_name": "contact_name",
	"contato":      "contact_name",
	"cliente":      "contact_name",
	"email":        "email",
	"e-mail":       "email",
	"phone":        "phone",
	"telefone":     "phone",
	"celular":      "phone",
	"stage":        "stage",
	"etapa":        "stage",
	"stage_name":   "stage",
	"tags":         "tags",
	"etiquetas":    "tags",
}

// Parse reads delimited text into rows. The delimiter (comma or semicolon) is
// auto-detected from the header line; quoting follows RFC 4180, with doubled
// quotes inside a quoted field producing a literal quote.
func Parse(r io.Reader) (ParseResult, error) {
	br := bufio.NewReader(r)

	delim, err := detectDelimiter(br)
	if err != nil {
		return ParseResult{}, err
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return ParseResult{}, fmt.Errorf("empty file")
		}
		return ParseResult{}, fmt.Errorf("read header: %w", err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	result := ParseResult{Delimiter: delim}
	line := 1

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return ParseResult{}, fmt.Errorf("line %d: %w", line, err)
		}

		row := Row{Line: line, Custom: map[string]string{}}
		for i, field := range record {
			if i >= len(columns) {
				break
			}
			value := strings.TrimSpace(field)
			key := strings.ToLower(columns[i])

			switch headerAliases[key] {
			case "external_id":
				row.ExternalID = value
			case "name":
				row.Name = value
			case "value":
				row.Value = value
			case "contact_name":
				row.ContactName = value
			case "email":
				row.Email = value
			case "phone":
				row.Phone = value
			case "stage":
				row.StageName = value
			case "tags":
				row.Tags = splitTags(value)
			default:
				if value != "" {
					row.Custom[columns[i]] = value
				}
			}
		}

		if row.ExternalID == "" && row.Name == "" {
			result.Skipped++
			continue
		}
		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

// detectDelimiter peeks at the header line and picks whichever of semicolon
// or comma appears more often, defaulting to comma.
func detectDelimiter(br *bufio.Reader) (rune, error) {
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, fmt.Errorf("peek header: %w", err)
	}
	if len(head) == 0 {
		return 0, fmt.Errorf("empty file")
	}

	headerLine := string(head)
	if idx := strings.IndexByte(headerLine, '\n'); idx >= 0 {
		headerLine = headerLine[:idx]
	}

	if strings.Count(headerLine, ";") > strings.Count(headerLine, ",") {
		return ';', nil
	}
	return ',', nil
}

func splitTags(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

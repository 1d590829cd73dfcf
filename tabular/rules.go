package tabular

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/theimaginaryfoundation/chat-tagger/tagging"
	"gopkg.in/yaml.v3"
)

// ruleFile is the document form of a YAML or JSON rule file.
type ruleFile struct {
	Rules []tagging.RuleRow `json:"rules" yaml:"rules"`
}

// ReadRules loads keyword rule rows from a .csv, .xlsx, .yaml/.yml or .json file. CSV
// and workbook headers are matched case-insensitively; brand, product and keyword are
// required, required_product is optional. Workbooks are read from their first sheet.
func ReadRules(path string) ([]tagging.RuleRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		header, rows, err := readCSV(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		return rulesFromRecords(path, header, rows)
	case ".xlsx":
		header, rows, err := readXLSX(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		return rulesFromRecords(path, header, rows)
	case ".yaml", ".yml":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		var doc ruleFile
		if err := yaml.Unmarshal(b, &doc); err != nil {
			var rows []tagging.RuleRow
			if err2 := yaml.Unmarshal(b, &rows); err2 != nil {
				return nil, fmt.Errorf("parse rules yaml: %w", err)
			}
			return rows, nil
		}
		return doc.Rules, nil
	case ".json":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read rules: %w", err)
		}
		b = bytes.TrimSpace(b)
		if len(b) > 0 && b[0] == '[' {
			var rows []tagging.RuleRow
			if err := json.Unmarshal(b, &rows); err != nil {
				return nil, fmt.Errorf("parse rules json: %w", err)
			}
			return rows, nil
		}
		var doc ruleFile
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse rules json: %w", err)
		}
		return doc.Rules, nil
	default:
		return nil, fmt.Errorf("unsupported rules file %s (want .csv, .xlsx, .yaml, .yml or .json)", path)
	}
}

func rulesFromRecords(path string, header []string, rows [][]string) ([]tagging.RuleRow, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(h)] = i
	}
	for _, col := range []string{"brand", "product", "keyword"} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("rules %s: missing required column %q", path, col)
		}
	}
	reqCol, hasReq := idx["required_product"]

	out := make([]tagging.RuleRow, 0, len(rows))
	for _, rec := range rows {
		r := tagging.RuleRow{
			Brand:   field(rec, idx["brand"]),
			Product: field(rec, idx["product"]),
			Keyword: field(rec, idx["keyword"]),
		}
		if hasReq {
			r.RequiredProduct = field(rec, reqCol)
		}
		out = append(out, r)
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

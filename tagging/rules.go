package tagging

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/text/cases"
)

// GenericProduct is the product name that marks a label as generic: a brand mention
// without a specific product variant.
const GenericProduct = "generic"

// RuleRow is one row of the keyword sheet as loaded from disk, before normalisation.
type RuleRow struct {
	Brand           string `json:"brand" yaml:"brand"`
	Product         string `json:"product" yaml:"product"`
	Keyword         string `json:"keyword" yaml:"keyword"`
	RequiredProduct string `json:"required_product,omitempty" yaml:"required_product"`
}

// Label is brand + "_" + product.
func (r RuleRow) Label() string {
	return strings.TrimSpace(r.Brand) + "_" + strings.TrimSpace(r.Product)
}

// KeywordRule is a normalised matching rule. RequiredKeywords is nil when the rule has
// no requirement or when its required products resolved to no keywords.
type KeywordRule struct {
	Label            string   `json:"label"`
	Brand            string   `json:"brand"`
	Product          string   `json:"product"`
	Keyword          string   `json:"keyword"`
	RequiredProducts []string `json:"required_products,omitempty"`
	RequiredKeywords []string `json:"required_keywords,omitempty"`
}

// RuleIssue reports a malformed or partially resolvable rule row. Issues are never
// fatal: the row is skipped or its requirement is dropped.
type RuleIssue struct {
	Row    int
	Label  string
	Reason string
}

func (i RuleIssue) String() string {
	if i.Label == "" {
		return fmt.Sprintf("row %d: %s", i.Row, i.Reason)
	}
	return fmt.Sprintf("row %d (%s): %s", i.Row, i.Label, i.Reason)
}

// matcher is the case-folded form of a KeywordRule used by Tag.
type matcher struct {
	keyword  string
	required []string
}

// RuleSet is an immutable collection of keyword rules grouped by label.
type RuleSet struct {
	rules    []KeywordRule
	matchers []matcher
	labels   []string
	byLabel  map[string][]int
	generic  map[string]bool
	siblings map[string][]string
}

// NewRuleSet normalises rows into a RuleSet. Rows without brand, product or keyword are
// skipped. A required_product list is resolved into the union of the keywords of every
// row whose product is named in it; unknown products are reported, and a list that
// resolves to nothing leaves the rule without a requirement.
func NewRuleSet(rows []RuleRow) (*RuleSet, []RuleIssue) {
	var issues []RuleIssue

	type cleanRow struct {
		row      int
		brand    string
		product  string
		keyword  string
		required []string
	}

	clean := make([]cleanRow, 0, len(rows))
	productKeywords := make(map[string][]string)
	for i, r := range rows {
		brand := strings.TrimSpace(r.Brand)
		product := strings.TrimSpace(r.Product)
		keyword := strings.TrimSpace(r.Keyword)
		if brand == "" || product == "" {
			issues = append(issues, RuleIssue{Row: i, Reason: "missing brand or product"})
			continue
		}
		label := brand + "_" + product
		if keyword == "" {
			issues = append(issues, RuleIssue{Row: i, Label: label, Reason: "empty keyword"})
			continue
		}
		clean = append(clean, cleanRow{
			row:      i,
			brand:    brand,
			product:  product,
			keyword:  keyword,
			required: splitProducts(r.RequiredProduct),
		})
		productKeywords[product] = appendUnique(productKeywords[product], keyword)
	}

	fold := cases.Fold()
	rs := &RuleSet{
		rules:    make([]KeywordRule, 0, len(clean)),
		matchers: make([]matcher, 0, len(clean)),
		byLabel:  make(map[string][]int),
		generic:  make(map[string]bool),
		siblings: make(map[string][]string),
	}
	brands := make(map[string]string)

	for _, c := range clean {
		label := c.brand + "_" + c.product
		rule := KeywordRule{
			Label:   label,
			Brand:   c.brand,
			Product: c.product,
			Keyword: c.keyword,
		}

		if len(c.required) > 0 {
			rule.RequiredProducts = c.required
			var keywords []string
			for _, p := range c.required {
				kws, ok := productKeywords[p]
				if !ok {
					issues = append(issues, RuleIssue{Row: c.row, Label: label, Reason: fmt.Sprintf("required product %q not found", p)})
					continue
				}
				for _, kw := range kws {
					keywords = appendUnique(keywords, kw)
				}
			}
			if len(keywords) == 0 {
				issues = append(issues, RuleIssue{Row: c.row, Label: label, Reason: "required products resolved to no keywords; requirement ignored"})
			} else {
				rule.RequiredKeywords = keywords
			}
		}

		m := matcher{keyword: fold.String(rule.Keyword)}
		for _, kw := range rule.RequiredKeywords {
			m.required = append(m.required, fold.String(kw))
		}

		if _, seen := rs.byLabel[label]; !seen {
			rs.labels = append(rs.labels, label)
			brands[label] = c.brand
			if strings.EqualFold(c.product, GenericProduct) {
				rs.generic[label] = true
			}
		}
		rs.byLabel[label] = append(rs.byLabel[label], len(rs.rules))
		rs.rules = append(rs.rules, rule)
		rs.matchers = append(rs.matchers, m)
	}

	for _, g := range rs.labels {
		if !rs.generic[g] {
			continue
		}
		base := brands[g]
		for _, s := range rs.labels {
			if !rs.generic[s] && strings.Contains(s, base) {
				rs.siblings[g] = append(rs.siblings[g], s)
			}
		}
	}

	return rs, issues
}

func splitProducts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = appendUnique(out, p)
		}
	}
	return out
}

func appendUnique(in []string, s string) []string {
	for _, v := range in {
		if v == s {
			return in
		}
	}
	return append(in, s)
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Rules returns a copy of every rule in load order.
func (rs *RuleSet) Rules() []KeywordRule {
	return append([]KeywordRule(nil), rs.rules...)
}

// RulesFor returns the rules attached to label.
func (rs *RuleSet) RulesFor(label string) []KeywordRule {
	idx := rs.byLabel[label]
	out := make([]KeywordRule, 0, len(idx))
	for _, i := range idx {
		out = append(out, rs.rules[i])
	}
	return out
}

// Labels returns every distinct label in first-seen order.
func (rs *RuleSet) Labels() []string {
	return append([]string(nil), rs.labels...)
}

// SpecificLabels returns the non-generic labels in first-seen order.
func (rs *RuleSet) SpecificLabels() []string {
	var out []string
	for _, l := range rs.labels {
		if !rs.generic[l] {
			out = append(out, l)
		}
	}
	return out
}

// GenericLabels returns the generic labels in first-seen order.
func (rs *RuleSet) GenericLabels() []string {
	var out []string
	for _, l := range rs.labels {
		if rs.generic[l] {
			out = append(out, l)
		}
	}
	return out
}

// Siblings returns the specific labels whose name contains the generic label's brand.
func (rs *RuleSet) Siblings(generic string) []string {
	return append([]string(nil), rs.siblings[generic]...)
}

type ruleRecord struct {
	Label           string `json:"label"`
	Brand           string `json:"brand"`
	Product         string `json:"product"`
	Keyword         string `json:"keyword"`
	RequiredProduct string `json:"required_product"`
	RequiredKeyword string `json:"required_keyword"`
}

// MarshalJSON serialises the rule set as a list of records, with the resolved required
// keywords pipe-delimited. This is the form embedded into the sentiment prompt.
func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	records := make([]ruleRecord, 0, len(rs.rules))
	for _, r := range rs.rules {
		records = append(records, ruleRecord{
			Label:           r.Label,
			Brand:           r.Brand,
			Product:         r.Product,
			Keyword:         r.Keyword,
			RequiredProduct: strings.Join(r.RequiredProducts, ","),
			RequiredKeyword: strings.Join(r.RequiredKeywords, "|"),
		})
	}
	return json.Marshal(records)
}

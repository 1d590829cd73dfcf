package tagging

import (
	"strings"

	"golang.org/x/text/cases"
)

// Tag applies the rule set to a batch of messages.
//
// Specific labels are evaluated first. A generic label is then evaluated only for the
// messages where none of its sibling specific labels matched; everywhere else it stays
// false regardless of keyword content. Within a label the rules are OR-ed; within a
// rule the keyword and the required-keyword condition are AND-ed.
func Tag(messages []Message, rules *RuleSet) *TagMatrix {
	if rules == nil {
		return newTagMatrix(messages, nil)
	}
	m := newTagMatrix(messages, rules.labels)

	fold := cases.Fold()
	bodies := make([]string, len(messages))
	for i, msg := range messages {
		bodies[i] = fold.String(msg.Body)
	}

	for j, label := range m.labels {
		if rules.generic[label] {
			continue
		}
		for i, body := range bodies {
			m.cells[j][i] = rules.matchLabel(label, body)
		}
	}

	for j, label := range m.labels {
		if !rules.generic[label] {
			continue
		}
		siblings := rules.siblings[label]
		for i, body := range bodies {
			if anyTagged(m, siblings, i) {
				continue
			}
			m.cells[j][i] = rules.matchLabel(label, body)
		}
	}
	return m
}

func anyTagged(m *TagMatrix, labels []string, msg int) bool {
	for _, l := range labels {
		if m.at(l, msg) {
			return true
		}
	}
	return false
}

// matchLabel reports whether any rule of label matches the folded body. A label without
// rules never matches.
func (rs *RuleSet) matchLabel(label, body string) bool {
	for _, i := range rs.byLabel[label] {
		if rs.matchers[i].match(body) {
			return true
		}
	}
	return false
}

func (m matcher) match(body string) bool {
	if !strings.Contains(body, m.keyword) {
		return false
	}
	if len(m.required) == 0 {
		return true
	}
	for _, kw := range m.required {
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}

package tagging

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func scenarioRules(t *testing.T) *RuleSet {
	t.Helper()
	rs, issues := NewRuleSet([]RuleRow{
		{Brand: "BrandA", Product: "Product1", Keyword: "alpha"},
		{Brand: "BrandA", Product: "Generic", Keyword: "hello"},
	})
	if len(issues) != 0 {
		t.Fatalf("issues=%v", issues)
	}
	return rs
}

func TestTag_SpecificMatchSuppressesGeneric(t *testing.T) {
	t.Parallel()

	rs := scenarioRules(t)
	m := Tag([]Message{{ID: "m1", Body: "I like alpha product"}}, rs)

	if !m.Get("m1", "BrandA_Product1") {
		t.Fatalf("BrandA_Product1=false, want true")
	}
	if m.Get("m1", "BrandA_Generic") {
		t.Fatalf("BrandA_Generic=true, want false")
	}
}

func TestTag_GenericOnlyMessage(t *testing.T) {
	t.Parallel()

	rs := scenarioRules(t)
	m := Tag([]Message{{ID: "m1", Body: "Hello only"}}, rs)

	if m.Get("m1", "BrandA_Product1") {
		t.Fatalf("BrandA_Product1=true, want false")
	}
	if !m.Get("m1", "BrandA_Generic") {
		t.Fatalf("BrandA_Generic=false, want true")
	}
}

func TestTag_GenericSkippedEvenWhenItsKeywordIsPresent(t *testing.T) {
	t.Parallel()

	rs := scenarioRules(t)
	m := Tag([]Message{{ID: "m1", Body: "Hello, I like ALPHA"}}, rs)

	if !m.Get("m1", "BrandA_Product1") || m.Get("m1", "BrandA_Generic") {
		t.Fatalf("product1=%v generic=%v", m.Get("m1", "BrandA_Product1"), m.Get("m1", "BrandA_Generic"))
	}
}

func TestTag_GenericExclusionOnlyAppliesToSiblings(t *testing.T) {
	t.Parallel()

	rs, _ := NewRuleSet([]RuleRow{
		{Brand: "BrandA", Product: "Generic", Keyword: "hello"},
		{Brand: "BrandB", Product: "Gold", Keyword: "gold"},
	})
	m := Tag([]Message{{ID: "m1", Body: "hello gold"}}, rs)

	if !m.Get("m1", "BrandB_Gold") {
		t.Fatalf("BrandB_Gold=false")
	}
	if !m.Get("m1", "BrandA_Generic") {
		t.Fatalf("BrandA_Generic=false, BrandB_Gold is not a sibling")
	}
}

func TestTag_RequiredKeywordIsAnded(t *testing.T) {
	t.Parallel()

	rs, issues := NewRuleSet([]RuleRow{
		{Brand: "BrandA", Product: "Product1", Keyword: "alpha"},
		{Brand: "BrandA", Product: "Product1", Keyword: "a1"},
		{Brand: "BrandB", Product: "Stage2", Keyword: "stage 2", RequiredProduct: "Product1"},
	})
	if len(issues) != 0 {
		t.Fatalf("issues=%v", issues)
	}

	msgs := []Message{
		{ID: "both", Body: "moving to stage 2 of alpha"},
		{ID: "other-kw", Body: "stage 2 with A1"},
		{ID: "only-kw", Body: "stage 2 is great"},
		{ID: "only-req", Body: "alpha is great"},
	}
	m := Tag(msgs, rs)

	got := map[string]bool{}
	for _, id := range m.MessageIDs() {
		got[id] = m.Get(id, "BrandB_Stage2")
	}
	want := map[string]bool{"both": true, "other-kw": true, "only-kw": false, "only-req": false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("BrandB_Stage2 mismatch (-want +got):\n%s", diff)
	}
}

func TestTag_UnresolvedRequirementIsVacuouslyTrue(t *testing.T) {
	t.Parallel()

	rs, issues := NewRuleSet([]RuleRow{
		{Brand: "BrandB", Product: "Product1", Keyword: "beta", RequiredProduct: "Missing"},
	})
	if len(issues) != 2 {
		t.Fatalf("issues=%v, want not-found + resolved-to-nothing", issues)
	}
	if got := rs.RulesFor("BrandB_Product1")[0].RequiredKeywords; got != nil {
		t.Fatalf("RequiredKeywords=%v, want nil", got)
	}

	m := Tag([]Message{{ID: "m1", Body: "beta only"}}, rs)
	if !m.Get("m1", "BrandB_Product1") {
		t.Fatalf("BrandB_Product1=false, want vacuous requirement")
	}
}

func TestTag_RulesAreOredWithinLabel(t *testing.T) {
	t.Parallel()

	rs, _ := NewRuleSet([]RuleRow{
		{Brand: "A", Product: "X", Keyword: "foo"},
		{Brand: "A", Product: "X", Keyword: "bar"},
	})
	m := Tag([]Message{{ID: "1", Body: "foo"}, {ID: "2", Body: "BAR"}, {ID: "3", Body: "baz"}}, rs)
	if m.Count("A_X") != 2 {
		t.Fatalf("Count=%d, want 2", m.Count("A_X"))
	}
}

func TestTag_Idempotent(t *testing.T) {
	t.Parallel()

	rs, _ := NewRuleSet([]RuleRow{
		{Brand: "BrandA", Product: "Product1", Keyword: "alpha"},
		{Brand: "BrandA", Product: "Generic", Keyword: "hello"},
		{Brand: "BrandA", Product: "Generic", Keyword: "brand a"},
		{Brand: "BrandB", Product: "Gold", Keyword: "gold", RequiredProduct: "Product1"},
	})
	msgs := []Message{
		{ID: "1", Body: "hello alpha gold"},
		{ID: "2", Body: "Brand A is nice"},
		{ID: "3", Body: "gold"},
		{ID: "4", Body: ""},
	}

	a := Tag(msgs, rs)
	b := Tag(msgs, rs)
	if !a.Equal(b) {
		t.Fatalf("matrices differ")
	}
	if diff := cmp.Diff(a.Pairs(), b.Pairs()); diff != "" {
		t.Fatalf("pairs differ (-a +b):\n%s", diff)
	}
}

func TestTag_ExclusionInvariantHoldsForEveryMessage(t *testing.T) {
	t.Parallel()

	rs, _ := NewRuleSet([]RuleRow{
		{Brand: "Milk", Product: "Gold", Keyword: "gold"},
		{Brand: "Milk", Product: "Organic", Keyword: "organic"},
		{Brand: "Milk", Product: "Generic", Keyword: "milk"},
		{Brand: "Milk", Product: "Generic", Keyword: "gold"},
	})
	msgs := []Message{
		{ID: "1", Body: "milk gold"},
		{ID: "2", Body: "organic milk"},
		{ID: "3", Body: "milk"},
		{ID: "4", Body: "gold"},
		{ID: "5", Body: "nothing"},
	}
	m := Tag(msgs, rs)

	for _, g := range rs.GenericLabels() {
		for _, id := range m.MessageIDs() {
			sibling := false
			for _, s := range rs.Siblings(g) {
				sibling = sibling || m.Get(id, s)
			}
			if sibling && m.Get(id, g) {
				t.Fatalf("message %s tagged %s while a sibling matched", id, g)
			}
		}
	}
	if !m.Get("3", "Milk_Generic") {
		t.Fatalf("message 3 should fall back to Milk_Generic")
	}
}

func TestTag_PairsAreLabelMajor(t *testing.T) {
	t.Parallel()

	rs := scenarioRules(t)
	m := Tag([]Message{{ID: "a", Body: "alpha"}, {ID: "b", Body: "hello"}, {ID: "c", Body: "alpha"}}, rs)

	want := []Pair{
		{MessageIndex: 0, MessageID: "a", Label: "BrandA_Product1"},
		{MessageIndex: 2, MessageID: "c", Label: "BrandA_Product1"},
		{MessageIndex: 1, MessageID: "b", Label: "BrandA_Generic"},
	}
	if diff := cmp.Diff(want, m.Pairs()); diff != "" {
		t.Fatalf("Pairs mismatch (-want +got):\n%s", diff)
	}
}

func TestTag_NilRuleSet(t *testing.T) {
	t.Parallel()

	m := Tag([]Message{{ID: "1", Body: "x"}}, nil)
	if len(m.Pairs()) != 0 || len(m.Labels()) != 0 {
		t.Fatalf("expected empty matrix")
	}
}

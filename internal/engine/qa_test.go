package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/tools"
)

func newTestValidator(client model.Client, agents ...*AgentDescriptor) *Validator {
	models := model.NewRegistry("test/m1")
	models.Register("test", client)
	inv := NewInvoker(models, tools.NewRegistry(), testEngineConfig())
	return NewValidator(inv, newTestCatalog("", agents...), testEngineConfig())
}

func qaAgent() *AgentDescriptor {
	return &AgentDescriptor{ID: "qa", Name: "Reviewer", Type: AgentQA}
}

func verdictJSON(status string, completeness, depth, accuracy, coherence int, gaps string) string {
	return fmt.Sprintf(`{"status": %q, "completeness": %d, "depth": %d, "accuracy": %d, "coherence": %d, "gaps": [%s]}`,
		status, completeness, depth, accuracy, coherence, gaps)
}

func TestReviewRecomputesPassFromScores(t *testing.T) {
	// The model claims fail, but every score clears its floor and there is
	// no critical gap, so the recomputed status is pass.
	client := &scriptedClient{responses: []*model.Response{
		textResponse(verdictJSON("fail", 90, 80, 90, 80, "")),
	}}
	v := newTestValidator(client, qaAgent())

	verdict := v.Review(context.Background(), TurnContext{}, "query", "answer")
	if verdict == nil {
		t.Fatal("expected verdict")
	}
	if verdict.Status != VerdictPass {
		t.Errorf("expected pass, got %s", verdict.Status)
	}
}

func TestReviewFailsOnLowCoherence(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		textResponse(verdictJSON("pass", 90, 80, 90, 60, "")),
	}}
	v := newTestValidator(client, qaAgent())

	verdict := v.Review(context.Background(), TurnContext{}, "query", "answer")
	if verdict == nil {
		t.Fatal("expected verdict")
	}
	if verdict.Status != VerdictFail {
		t.Errorf("coherence 60 must fail, got %s", verdict.Status)
	}
}

func TestReviewFailsOnCriticalGap(t *testing.T) {
	gap := `{"missing": "pricing data", "importance": "critical", "suggested_query": "find pricing"}`
	client := &scriptedClient{responses: []*model.Response{
		textResponse(verdictJSON("pass", 95, 90, 95, 90, gap)),
	}}
	v := newTestValidator(client, qaAgent())

	verdict := v.Review(context.Background(), TurnContext{}, "query", "answer")
	if verdict == nil {
		t.Fatal("expected verdict")
	}
	if verdict.Status != VerdictFail {
		t.Errorf("critical gap must fail regardless of scores, got %s", verdict.Status)
	}
	if len(verdict.CriticalGaps()) != 1 {
		t.Errorf("expected 1 critical gap, got %d", len(verdict.CriticalGaps()))
	}
}

func TestReviewWithoutQAAgent(t *testing.T) {
	client := &scriptedClient{}
	v := newTestValidator(client, &AgentDescriptor{ID: "ra", Type: AgentIndividual})

	if verdict := v.Review(context.Background(), TurnContext{}, "q", "a"); verdict != nil {
		t.Fatalf("expected nil verdict without a qa agent, got %+v", verdict)
	}
	if client.calls != 0 {
		t.Errorf("no model call expected, got %d", client.calls)
	}
}

func TestReviewUnparseableVerdict(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		textResponse("I think it looks fine overall."),
	}}
	v := newTestValidator(client, qaAgent())

	if verdict := v.Review(context.Background(), TurnContext{}, "q", "a"); verdict != nil {
		t.Fatalf("expected nil verdict for unparseable output, got %+v", verdict)
	}
}

func TestReviewInputCarriesQueryAndAnswer(t *testing.T) {
	client := &scriptedClient{responses: []*model.Response{
		textResponse(verdictJSON("pass", 90, 80, 90, 80, "")),
	}}
	v := newTestValidator(client, qaAgent())
	v.Review(context.Background(), TurnContext{}, "THE QUERY", "THE ANSWER")

	if len(client.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(client.requests))
	}
	input := client.requests[0].Messages[len(client.requests[0].Messages)-1].Content
	if !strings.Contains(input, "THE QUERY") || !strings.Contains(input, "THE ANSWER") {
		t.Errorf("review input incomplete: %q", input)
	}
}

func TestVerdictPassesMatrix(t *testing.T) {
	th := testEngineConfig().Thresholds
	cases := []struct {
		name    string
		verdict QAVerdict
		want    bool
	}{
		{"all at floor", QAVerdict{Completeness: 80, Depth: 70, Accuracy: 85, Coherence: 75}, true},
		{"completeness below", QAVerdict{Completeness: 79, Depth: 70, Accuracy: 85, Coherence: 75}, false},
		{"depth below", QAVerdict{Completeness: 80, Depth: 69, Accuracy: 85, Coherence: 75}, false},
		{"accuracy below", QAVerdict{Completeness: 80, Depth: 70, Accuracy: 84, Coherence: 75}, false},
		{"coherence below", QAVerdict{Completeness: 80, Depth: 70, Accuracy: 85, Coherence: 74}, false},
		{"important gap still passes", QAVerdict{Completeness: 90, Depth: 80, Accuracy: 90, Coherence: 80,
			Gaps: []Gap{{Missing: "x", Importance: GapImportant}}}, true},
		{"critical gap fails", QAVerdict{Completeness: 90, Depth: 80, Accuracy: 90, Coherence: 80,
			Gaps: []Gap{{Missing: "x", Importance: GapCritical}}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := verdictPasses(th, &tc.verdict); got != tc.want {
				t.Errorf("verdictPasses = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseVerdictClampsScores(t *testing.T) {
	verdict, err := parseVerdict(`{"completeness": 150, "depth": -5, "accuracy": 85, "coherence": 75}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if verdict.Completeness != 100 || verdict.Depth != 0 {
		t.Errorf("scores not clamped: %+v", verdict)
	}
}

func TestGapsEqual(t *testing.T) {
	a := []Gap{{Missing: "Pricing Data"}, {Missing: "timeline"}}
	b := []Gap{{Missing: "timeline "}, {Missing: "pricing data"}}
	if !gapsEqual(a, b) {
		t.Error("order, case and spacing must not matter")
	}

	c := []Gap{{Missing: "pricing data"}}
	if gapsEqual(a, c) {
		t.Error("different lengths must not be equal")
	}

	d := []Gap{{Missing: "pricing data"}, {Missing: "sources"}}
	if gapsEqual(a, d) {
		t.Error("different gaps must not be equal")
	}

	if !gapsEqual(nil, nil) {
		t.Error("empty sets are equal")
	}
}

func TestFollowUpGaps(t *testing.T) {
	v := &QAVerdict{Gaps: []Gap{
		{Missing: "a", Importance: GapNiceToHave},
		{Missing: "b", Importance: GapImportant},
		{Missing: "c", Importance: GapCritical},
		{Missing: "d", Importance: GapImportant},
	}}

	got := followUpGaps(v)
	if len(got) != 3 {
		t.Fatalf("expected 3 follow-up gaps, got %d", len(got))
	}
	if got[0].Missing != "c" {
		t.Errorf("critical gaps come first, got %q", got[0].Missing)
	}
	for _, g := range got {
		if g.Importance == GapNiceToHave {
			t.Errorf("nice-to-have gap %q must not trigger follow-up", g.Missing)
		}
	}
}

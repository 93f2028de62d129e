package policy

import "testing"

func TestEvalAllAllPass(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	request := map[string]any{"headers": map[string]any{"origin": "good.com"}}
	err = e.EvalAll([]string{`request.headers.origin == "good.com"`}, request)
	if err != nil {
		t.Fatalf("expected predicate to hold: %v", err)
	}
}

func TestEvalAllFailure(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	request := map[string]any{"headers": map[string]any{"origin": "bad.com"}}
	err = e.EvalAll([]string{`request.headers.origin == "good.com"`}, request)
	if err == nil {
		t.Fatal("expected predicate failure")
	}
}

func TestEvalAllInvalidExpression(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	err = e.EvalAll([]string{`this is not cel`}, nil)
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestCompileCachesProgram(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	expr := `request.method == "GET"`
	if err := e.Compile(expr); err != nil {
		t.Fatalf("compile: %v", err)
	}

	if err := e.EvalAll([]string{expr}, map[string]any{"method": "GET"}); err != nil {
		t.Fatalf("expected cached predicate to hold: %v", err)
	}
}

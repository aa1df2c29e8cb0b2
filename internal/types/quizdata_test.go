package types

import (
	"strings"
	"testing"
)

func TestCoerceQuizDataAcceptsBooleanPass(t *testing.T) {
	cases := []struct {
		name string
		pass string
		want bool
	}{
		{name: "bool true", pass: "true", want: true},
		{name: "bool false", pass: "false", want: false},
		{name: "numeric one", pass: "1", want: true},
		{name: "numeric zero", pass: "0", want: false},
		{name: "float nonzero", pass: "0.5", want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := `{"params":{"a":1},"correct_answers":{"x":2},"test_results":{"pass":` + tc.pass + `}}`
			qd, err := CoerceQuizData([]byte(raw))
			if err != nil {
				t.Fatalf("CoerceQuizData: %v", err)
			}
			if got := qd.TestResults.Passed(); got != tc.want {
				t.Fatalf("Passed: want=%v got=%v", tc.want, got)
			}
		})
	}
}

func TestCoerceQuizDataRejectsStringPass(t *testing.T) {
	raw := `{"params":{},"correct_answers":{},"test_results":{"pass":"yes"}}`
	_, err := CoerceQuizData([]byte(raw))
	if err == nil {
		t.Fatal("expected error for string pass value")
	}
	if !strings.Contains(err.Error(), "numeric or boolean") {
		t.Fatalf("error: %v", err)
	}
}

func TestCoerceQuizDataDefaults(t *testing.T) {
	qd, err := CoerceQuizData([]byte(`{"params":{},"correct_answers":{}}`))
	if err != nil {
		t.Fatalf("CoerceQuizData: %v", err)
	}
	if qd.NDigits != 3 || qd.SigFigs != 3 {
		t.Fatalf("defaults: nDigits=%d sigfigs=%d", qd.NDigits, qd.SigFigs)
	}
	if qd.TestResults.Passed() {
		t.Fatal("absent test_results must not read as passed")
	}
}

func TestCoerceQuizDataRequiresParams(t *testing.T) {
	_, err := CoerceQuizData([]byte(`{"correct_answers":{}}`))
	if err == nil || !strings.Contains(err.Error(), "params") {
		t.Fatalf("error: %v", err)
	}
}

package model

import "testing"

func TestIsTerminal(t *testing.T) {
	nonTerminal := []SubmissionStatus{StatusPending, StatusProcessing}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s reported terminal", s)
		}
	}
	terminal := []SubmissionStatus{
		StatusAccepted, StatusWrongAnswer, StatusTimeLimitExceeded,
		StatusMemoryLimitExceeded, StatusRuntimeError, StatusCompilationError,
		StatusFailed,
	}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s reported non-terminal", s)
		}
	}
}

func TestIsValidRejectsUnknown(t *testing.T) {
	if SubmissionStatus("JUDGING").IsValid() {
		t.Error("unknown status accepted")
	}
	if SubmissionStatus("").IsValid() {
		t.Error("empty status accepted")
	}
	if !StatusAccepted.IsValid() {
		t.Error("ACCEPTED rejected")
	}
}

func TestStatusForOutcome(t *testing.T) {
	cases := map[TestOutcome]SubmissionStatus{
		TestWrongAnswer:         StatusWrongAnswer,
		TestTimeLimitExceeded:   StatusTimeLimitExceeded,
		TestMemoryLimitExceeded: StatusMemoryLimitExceeded,
		TestRuntimeError:        StatusRuntimeError,
		TestPassed:              StatusAccepted,
	}
	for outcome, want := range cases {
		if got := StatusForOutcome(outcome); got != want {
			t.Errorf("StatusForOutcome(%s) = %s, want %s", outcome, got, want)
		}
	}
}

func TestWorseVerdictPrecedence(t *testing.T) {
	// CE > RE > TLE > MLE > WA
	order := []SubmissionStatus{
		StatusWrongAnswer,
		StatusMemoryLimitExceeded,
		StatusTimeLimitExceeded,
		StatusRuntimeError,
		StatusCompilationError,
	}
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if got := WorseVerdict(order[i], order[j]); got != order[j] {
				t.Errorf("WorseVerdict(%s, %s) = %s, want %s", order[i], order[j], got, order[j])
			}
			if got := WorseVerdict(order[j], order[i]); got != order[j] {
				t.Errorf("WorseVerdict(%s, %s) = %s, want %s", order[j], order[i], got, order[j])
			}
		}
	}
}

package testutil

import "testing"

// Scenario steps run as named subtests so a failure reads as the step that
// broke, e.g. "Given_a_submitted_credit_check/When_the_provider_answers".

func Given(t *testing.T, desc string, fn func(t *testing.T)) { step(t, "Given", desc, fn) }
func When(t *testing.T, desc string, fn func(t *testing.T))  { step(t, "When", desc, fn) }
func Then(t *testing.T, desc string, fn func(t *testing.T))  { step(t, "Then", desc, fn) }
func And(t *testing.T, desc string, fn func(t *testing.T))   { step(t, "And", desc, fn) }

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	if !t.Run(keyword+" "+desc, fn) {
		t.FailNow()
	}
}

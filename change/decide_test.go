package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status      Status
		allowDrafts bool
		want        Eligibility
	}{
		{StatusNew, false, EligibleNew},
		{StatusAbandoned, false, EligibleAbandoned},
		{StatusMerged, true, IneligibleMerged},
		{StatusDraft, true, DraftAllowed},
		{StatusDraft, false, DraftNeedsAdmin},
		{Status("SUBMITTED"), true, IneligibleMerged},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.status, tc.allowDrafts), "%s drafts=%v", tc.status, tc.allowDrafts)
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		e         Eligibility
		admin     bool
		canDelete bool
		want      Verdict
		reason    string
	}{
		{EligibleNew, false, true, Allow, ""},
		{EligibleNew, true, false, DenyAuth, "delete not permitted"},
		{EligibleAbandoned, false, true, Allow, ""},
		{EligibleAbandoned, false, false, DenyAuth, "delete not permitted"},
		{IneligibleMerged, true, true, DenyMethodNotAllowed, "delete not permitted"},
		{DraftAllowed, false, true, Allow, ""},
		{DraftAllowed, true, false, DenyAuth, "delete not permitted"},
		{DraftNeedsAdmin, true, false, Allow, ""},
		{DraftNeedsAdmin, false, true, DenyMethodNotAllowed, "Draft workflow is disabled"},
	}
	for _, tc := range cases {
		got := Decide(tc.e, tc.admin, tc.canDelete)
		assert.Equal(t, tc.want, got.Verdict, "%s admin=%v delete=%v", tc.e, tc.admin, tc.canDelete)
		assert.Equal(t, tc.reason, got.Reason)
	}
}

func TestDecisionErr(t *testing.T) {
	assert.NoError(t, Decision{Verdict: Allow}.Err())

	err := Decision{Verdict: DenyMethodNotAllowed, Reason: "Draft workflow is disabled"}.Err()
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
	assert.EqualError(t, err, "Draft workflow is disabled")

	assert.ErrorIs(t, Decision{Verdict: DenyAuth, Reason: "x"}.Err(), ErrAuth)
}

func TestParseID(t *testing.T) {
	id, err := ParseID("42")
	assert.NoError(t, err)
	assert.Equal(t, ID(42), id)

	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := ParseID(raw)
		assert.ErrorIs(t, err, ErrNotFound, raw)
	}
}

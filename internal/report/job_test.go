package report

import "testing"

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	j := Job{
		JobID:      "JOB_ABC12345",
		Priority:   5,
		UserRole:   "CASE_WORKER",
		ReportType: "DAILY_SUMMARY",
		DataFormat: FormatJSON,
		TenantID:   "Orange",
		Status:     StatusQueued,
	}
	s, err := j.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	j2, err := UnmarshalJob(s)
	if err != nil {
		t.Fatal(err)
	}
	if j2.JobID != j.JobID || j2.ReportType != j.ReportType || j2.TenantID != j.TenantID {
		t.Fatalf("roundtrip mismatch: %#v vs %#v", j, j2)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestVisibleNonPrivileged(t *testing.T) {
	j := Job{UserRole: "CASE_WORKER", TenantID: "Orange"}
	if !j.Visible("CASE_WORKER", "Orange", true) {
		t.Fatal("expected visible for matching role+tenant")
	}
	if j.Visible("CASE_WORKER", "Other", true) {
		t.Fatal("expected not visible for mismatched tenant")
	}
	if j.Visible("SUPERVISOR", "Orange", true) {
		t.Fatal("expected not visible for mismatched role")
	}
	all := Job{UserRole: "CASE_WORKER", TenantID: "ALL"}
	if !all.Visible("CASE_WORKER", "AnyCounty", true) {
		t.Fatal("expected ALL sentinel to be universally visible for matching role")
	}
}

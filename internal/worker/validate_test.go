package worker

import "testing"

func TestValidateRepoURL(t *testing.T) {
	cases := []struct {
		name  string
		url   string
		valid bool
	}{
		{"https ok", "https://github.com/acme/widgets.git", true},
		{"ssh ok", "ssh://git@github.com/acme/widgets.git", true},
		{"scp-like ok", "git@github.com:acme/widgets.git", true},
		{"leading dash rejected", "-oProxyCommand=evil", false},
		{"percent-encoded leading dash rejected", "%2doProxyCommand=evil", false},
		{"file scheme rejected", "file:///etc/passwd", false},
		{"ftp scheme rejected", "ftp://example.com/repo.git", false},
		{"empty rejected", "", false},
		{"no host rejected", "https://", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateRepoURL(c.url)
			if c.valid && err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if !c.valid && err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestValidateBranchName(t *testing.T) {
	cases := []struct {
		name   string
		branch string
		valid  bool
	}{
		{"simple ok", "orchestrator/run-1/job-1", true},
		{"leading dash rejected", "-evil", false},
		{"leading dot rejected", ".hidden", false},
		{"double dot rejected", "feature/../escape", false},
		{"lock suffix rejected", "feature.lock", false},
		{"bad char rejected", "feature branch", false},
		{"empty rejected", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateBranchName(c.branch)
			if c.valid && err != nil {
				t.Fatalf("expected valid, got error: %v", err)
			}
			if !c.valid && err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestValidateRunID(t *testing.T) {
	if err := ValidateRunID("run-1_ABC"); err != nil {
		t.Fatalf("expected valid run id, got %v", err)
	}
	if err := ValidateRunID("run 1"); err == nil {
		t.Fatal("expected error for run id containing a space")
	}
}

func TestWorkspaceBranchName(t *testing.T) {
	branch, err := WorkspaceBranchName("run-1", "job-1")
	if err != nil {
		t.Fatalf("WorkspaceBranchName: %v", err)
	}
	if branch != "orchestrator/run-1/job-1" {
		t.Fatalf("unexpected branch name: %s", branch)
	}

	if _, err := WorkspaceBranchName("run 1", "job-1"); err == nil {
		t.Fatal("expected error for invalid run id")
	}
}

package platform

import "testing"

func TestNullShimInstallReleaseTransitions(t *testing.T) {
	s := NewNullShim()

	// not installed, assign_to_me=true -> install
	s.AssignResource("r1", true, "eth0:10.0.0.1")
	if _, ok := s.Installed()["r1"]; !ok {
		t.Fatal("expected r1 installed")
	}

	// installed, assign_to_me=true again -> no-op (still one install call total)
	s.AssignResource("r1", true, "eth0:10.0.0.1")

	// installed, assign_to_me=false -> release
	s.AssignResource("r1", false, "eth0:10.0.0.1")
	if _, ok := s.Installed()["r1"]; ok {
		t.Fatal("expected r1 released")
	}

	// not installed, assign_to_me=false -> no-op
	s.AssignResource("r1", false, "eth0:10.0.0.1")

	if len(s.Calls) != 4 {
		t.Fatalf("expected 4 recorded calls (install, no-op, release, no-op), got %d", len(s.Calls))
	}
}

func TestParseResourceRejectsMalformed(t *testing.T) {
	cases := []string{"noColonHere", "eth0:not-an-ip", "eth0:"}
	for _, c := range cases {
		if _, _, err := parseResource(c); err == nil {
			t.Errorf("expected parseResource(%q) to fail", c)
		}
	}
}

func TestParseResourceAccepts(t *testing.T) {
	ifname, ip, err := parseResource("eth0:10.1.2.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ifname != "eth0" || ip.String() != "10.1.2.3" {
		t.Fatalf("got ifname=%q ip=%v", ifname, ip)
	}
}

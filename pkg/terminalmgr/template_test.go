package terminalmgr

import "testing"

func TestIdentifiersSeparatesNamespaces(t *testing.T) {
	tmpl := "echo @{user}@{user} &{cpu_load} @{host} &{mem_free}"

	vars := identifiers(tmpl, VarSigil)
	if len(vars) != 2 || vars[0] != "user" || vars[1] != "host" {
		t.Fatalf("unexpected variable identifiers: %v", vars)
	}

	sensors := identifiers(tmpl, SensorSigil)
	if len(sensors) != 2 || sensors[0] != "cpu_load" || sensors[1] != "mem_free" {
		t.Fatalf("unexpected sensor identifiers: %v", sensors)
	}
}

func TestSubstituteStrictErrorsOnMissingKey(t *testing.T) {
	_, err := substitute("hello @{name}", VarSigil, map[string]string{}, false)
	if err == nil {
		t.Fatal("expected error for missing placeholder")
	}
}

func TestSubstituteLeavesOtherNamespaceUntouched(t *testing.T) {
	out, err := substitute("@{a} &{b}", VarSigil, map[string]string{"a": "1"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "1 &{b}" {
		t.Fatalf("got %q", out)
	}
}

func TestSubstituteMissingOKPassesThrough(t *testing.T) {
	out, err := substitute("&{known} &{unknown}", SensorSigil, map[string]string{"known": "42"}, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "42 &{unknown}" {
		t.Fatalf("got %q", out)
	}
}

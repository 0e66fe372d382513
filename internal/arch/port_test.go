package arch

import "testing"

func TestByNameResolvesEveryPort(t *testing.T) {
	for _, name := range []string{"amd64", "arm64", "ppc64", "s390x", "mips64"} {
		if ByName(name) == nil {
			t.Fatalf("no port registered for %q", name)
		}
	}
}

func TestByNameUnknownReturnsNil(t *testing.T) {
	if ByName("vax") != nil {
		t.Fatalf("expected no port for an unsupported target")
	}
}

func TestRegisterNamesNonEmpty(t *testing.T) {
	for _, name := range []string{"amd64", "arm64", "ppc64", "s390x", "mips64"} {
		if len(ByName(name).RegisterNames()) == 0 {
			t.Fatalf("%s: expected a non-empty register list", name)
		}
	}
}

func TestAMD64NopHasNoFixups(t *testing.T) {
	// A run of single-byte NOPs contains no branch instructions at all.
	nops := []byte{0x90, 0x90, 0x90, 0x90}
	if got := ByName("amd64").CodeFixups(nops); len(got) != 0 {
		t.Fatalf("expected no fixups in a NOP run, got %v", got)
	}
}

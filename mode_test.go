package ext2

import (
	"io/fs"
	"testing"
)

func TestUnixToModeRegularFile(t *testing.T) {
	got := unixToMode(sIFREG | 0644)
	want := fs.FileMode(0644)
	if got != want {
		t.Fatalf("unixToMode() = %v want %v", got, want)
	}
}

func TestUnixToModeDirectory(t *testing.T) {
	got := unixToMode(sIFDIR | 0755)
	if got&fs.ModeDir == 0 {
		t.Fatalf("expected ModeDir bit set, got %v", got)
	}
	if got.Perm() != 0755 {
		t.Fatalf("perm mismatch: got %v", got.Perm())
	}
}

func TestUnixToModeSetuidSetgidSticky(t *testing.T) {
	got := unixToMode(sIFREG | sISUID | sISGID | sISVTX | 0600)
	for _, bit := range []fs.FileMode{fs.ModeSetuid, fs.ModeSetgid, fs.ModeSticky} {
		if got&bit == 0 {
			t.Fatalf("expected %v set in %v", bit, got)
		}
	}
}

func TestModeToUnixRoundTrip(t *testing.T) {
	cases := []fs.FileMode{
		0644,
		fs.ModeDir | 0755,
		fs.ModeSymlink | 0777,
		fs.ModeSetuid | 0755,
	}
	for _, m := range cases {
		raw := modeToUnix(m)
		back := unixToMode(raw)
		if back != m {
			t.Errorf("round trip for %v: got %v", m, back)
		}
	}
}

func TestModeToUnixDefaultsToRegular(t *testing.T) {
	raw := modeToUnix(0600)
	if raw&sIFMT != sIFREG {
		t.Fatalf("expected sIFREG, got mode %#x", raw&sIFMT)
	}
}

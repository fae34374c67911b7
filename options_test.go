package ext2

import "testing"

func TestWithCacheSizeRejectsNonPositive(t *testing.T) {
	fsys := &FileSystem{}
	if err := WithCacheSize(0)(fsys); err == nil {
		t.Fatalf("expected error for zero cache size")
	}
	if err := WithCacheSize(-1)(fsys); err == nil {
		t.Fatalf("expected error for negative cache size")
	}
}

func TestWithCacheSizeSetsValue(t *testing.T) {
	fsys := &FileSystem{}
	if err := WithCacheSize(256)(fsys); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fsys.cacheSize != 256 {
		t.Fatalf("cacheSize = %d, want 256", fsys.cacheSize)
	}
}

func TestWithReservedBlockPolicyDefaultDenies(t *testing.T) {
	if denyReserved(0) {
		t.Fatalf("denyReserved must always return false")
	}
}

func TestWithReservedBlockPolicyInstallsCallback(t *testing.T) {
	fsys := &FileSystem{}
	called := false
	policy := func(uid uint32) bool {
		called = true
		return uid == 42
	}
	if err := WithReservedBlockPolicy(policy)(fsys); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !fsys.reservedPolicy(42) {
		t.Fatalf("expected installed policy to allow uid 42")
	}
	if !called {
		t.Fatalf("expected installed policy to be invoked")
	}
}

func TestWithReservedBlockPolicyNilIsNoop(t *testing.T) {
	fsys := &FileSystem{reservedPolicy: denyReserved}
	if err := WithReservedBlockPolicy(nil)(fsys); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if fsys.reservedPolicy(1) {
		t.Fatalf("expected policy to remain unchanged (deny)")
	}
}

package certauthority

import (
	"crypto/x509"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func testAuthority(t *testing.T) *Authority {
	t.Helper()
	dir := t.TempDir()
	index, err := OpenIndex(filepath.Join(dir, "leaves.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}
	a, err := New(dir, index, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// === CA bootstrap ===

func TestNew_GeneratesRootOnce(t *testing.T) {
	dir := t.TempDir()
	index, err := OpenIndex(filepath.Join(dir, "leaves.db"))
	if err != nil {
		t.Fatalf("OpenIndex: %v", err)
	}

	a1, err := New(dir, index, zap.NewNop())
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	serial1 := a1.caCert.SerialNumber.String()

	a2, err := New(dir, index, zap.NewNop())
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	serial2 := a2.caCert.SerialNumber.String()

	if serial1 != serial2 {
		t.Errorf("CA was regenerated across restarts: %s != %s", serial1, serial2)
	}
}

func TestAuthority_RootCertPEM(t *testing.T) {
	a := testAuthority(t)
	pemBytes, err := a.RootCertPEM()
	if err != nil {
		t.Fatalf("RootCertPEM: %v", err)
	}
	if len(pemBytes) == 0 {
		t.Error("expected non-empty PEM")
	}
}

// === Leaf minting ===

func TestGetLeaf_MintsValidChain(t *testing.T) {
	a := testAuthority(t)

	cert, err := a.GetLeaf("example.com")
	if err != nil {
		t.Fatalf("GetLeaf: %v", err)
	}
	if len(cert.Certificate) != 2 {
		t.Fatalf("expected a 2-element chain (leaf, ca), got %d", len(cert.Certificate))
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "example.com" {
		t.Errorf("expected SAN example.com, got %v", leaf.DNSNames)
	}

	roots := x509.NewCertPool()
	roots.AddCert(a.caCert)
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: "example.com", Roots: roots}); err != nil {
		t.Errorf("leaf did not verify against CA: %v", err)
	}
}

func TestGetLeaf_CachesAcrossCalls(t *testing.T) {
	a := testAuthority(t)

	first, err := a.GetLeaf("example.com")
	if err != nil {
		t.Fatalf("GetLeaf (first): %v", err)
	}
	second, err := a.GetLeaf("example.com")
	if err != nil {
		t.Fatalf("GetLeaf (second): %v", err)
	}
	if string(first.Certificate[0]) != string(second.Certificate[0]) {
		t.Error("expected the same leaf to be reused, got a fresh mint")
	}
}

func TestGetLeaf_DistinctDomainsDistinctLeaves(t *testing.T) {
	a := testAuthority(t)

	c1, err := a.GetLeaf("a.example.com")
	if err != nil {
		t.Fatalf("GetLeaf a: %v", err)
	}
	c2, err := a.GetLeaf("b.example.com")
	if err != nil {
		t.Fatalf("GetLeaf b: %v", err)
	}
	if string(c1.Certificate[0]) == string(c2.Certificate[0]) {
		t.Error("expected distinct leaves for distinct domains")
	}
}

// === Index persistence ===

func TestIndex_ListReflectsMintedLeaves(t *testing.T) {
	a := testAuthority(t)
	if _, err := a.GetLeaf("example.com"); err != nil {
		t.Fatalf("GetLeaf: %v", err)
	}

	rows, err := a.index.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 || rows[0].Domain != "example.com" {
		t.Errorf("expected one indexed row for example.com, got %+v", rows)
	}
}

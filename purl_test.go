package watchtower

import "testing"

func TestNPMPackageURL(t *testing.T) {
	if got, want := NPMPackageURL("express", "4.18.2").String(), "pkg:npm/express@4.18.2"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	// scoped names round-trip through the namespace
	purl, err := ParseNPMPackageURL(NPMPackageURL("@babel/core", "7.23.0").String())
	if err != nil {
		t.Fatal(err)
	}
	if purl.Namespace != "@babel" || purl.Name != "core" || purl.Version != "7.23.0" {
		t.Errorf("unexpected purl: %+v", purl)
	}
}

func TestParseNPMPackageURL(t *testing.T) {
	purl, err := ParseNPMPackageURL("pkg:npm/express@4.18.2")
	if err != nil {
		t.Fatal(err)
	}
	if purl.Name != "express" || purl.Version != "4.18.2" {
		t.Errorf("unexpected purl: %+v", purl)
	}
	if _, err := ParseNPMPackageURL("pkg:golang/express@1.0.0"); err == nil {
		t.Error("expected error for non-npm purl")
	}
	if _, err := ParseNPMPackageURL("express"); err == nil {
		t.Error("expected error for bare name")
	}
}

package keydata

import "testing"

func TestParseLua(t *testing.T) {
	script := `
addappid(440)
addappid(441, 0, "aabbccdd")
addappid(442, 0, "00112233")
setManifestid(441, "7890123456789012345")
setManifestid(443, "1111111111111111111")
`
	result := ParseLua(script)

	if result.MainAppID != "440" {
		t.Errorf("MainAppID = %q, want 440", result.MainAppID)
	}
	if len(result.Depots) != 3 {
		t.Fatalf("got %d depots, want 3", len(result.Depots))
	}

	byID := make(map[string]DepotInfo)
	for _, d := range result.Depots {
		byID[d.DepotID] = d
	}

	if d := byID["441"]; d.DepotKey != "aabbccdd" || d.ManifestID != "7890123456789012345" {
		t.Errorf("depot 441 = %+v, want key aabbccdd and manifest 7890123456789012345", d)
	}
	if d := byID["442"]; d.DepotKey != "00112233" || d.ManifestID != "" {
		t.Errorf("depot 442 = %+v, want key only", d)
	}
	if d := byID["443"]; d.DepotKey != "" || d.ManifestID != "1111111111111111111" {
		t.Errorf("depot 443 = %+v, want manifest only", d)
	}

	// Numeric order, not lexicographic
	if result.Depots[0].DepotID != "441" || result.Depots[2].DepotID != "443" {
		t.Errorf("depots out of order: %v", result.Depots)
	}
}

func TestParseLuaCaseInsensitive(t *testing.T) {
	result := ParseLua(`AddAppId(100, 0, "ff") SETMANIFESTID(100, "42")`)
	if len(result.Depots) != 1 {
		t.Fatalf("got %d depots, want 1", len(result.Depots))
	}
	d := result.Depots[0]
	if d.DepotKey != "ff" || d.ManifestID != "42" {
		t.Errorf("depot = %+v", d)
	}
}

func TestParseLuaMainAppFallback(t *testing.T) {
	// No bare addappid; smallest depot ID becomes the main app.
	result := ParseLua(`addappid(230, 0, "aa") addappid(229, 0, "bb")`)
	if result.MainAppID != "229" {
		t.Errorf("MainAppID = %q, want 229", result.MainAppID)
	}
}

func TestParseLuaEmpty(t *testing.T) {
	result := ParseLua("print('nothing here')")
	if result.MainAppID != "" || len(result.Depots) != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

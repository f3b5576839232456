package stratum

import "testing"

func TestDetectFamily(t *testing.T) {
	cases := map[string]Family{
		"IceRiverMiner/1.0.0":   FamilyIceRiver,
		"bzminer/21.1.1":        FamilyBzMiner,
		"GoldShell-KA-Box/v3":   FamilyGoldshell,
		"GodMiner/2.4.0":        FamilyBitmain,
		"some-unknown-agent/1":  FamilyUnknown,
	}
	for agent, want := range cases {
		if got := DetectFamily(agent); got != want {
			t.Errorf("DetectFamily(%q) = %v, want %v", agent, got, want)
		}
	}
}

func TestExtranonceWidth(t *testing.T) {
	if FamilyBitmain.ExtranonceWidth() != 0 {
		t.Fatal("bitmain should have a zero-width extranonce")
	}
	if FamilyIceRiver.ExtranonceWidth() != 2 {
		t.Fatal("iceriver should have a 2-byte extranonce")
	}
}

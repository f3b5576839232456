package stratum

import "strings"

// Family is a detected miner firmware family. Each family has fixed
// extranonce and nonce wire widths, learned from how real ASIC firmware
// talks to Kaspa bridges.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyIceRiver
	FamilyBitmain
	FamilyBzMiner
	FamilyGoldshell
)

func (f Family) String() string {
	switch f {
	case FamilyIceRiver:
		return "iceriver"
	case FamilyBitmain:
		return "bitmain"
	case FamilyBzMiner:
		return "bzminer"
	case FamilyGoldshell:
		return "goldshell"
	default:
		return "unknown"
	}
}

// ExtranonceWidth is the number of extranonce bytes the bridge assigns a
// session of this family. Bitmain firmware does not honor
// mining.set_extranonce and carries none.
func (f Family) ExtranonceWidth() int {
	if f == FamilyBitmain {
		return 0
	}
	return 2
}

// NonceWidthBytes is the nominal wire width this family's firmware submits
// nonces in. Bitmain's width varies by firmware revision (32-bit on older
// builds, 64-bit on newer ones). The submit path does not consult it:
// parseSubmit reads any hex nonce of up to 64 bits as a uint64, so a 32-bit
// nonce is taken as left-padded with zeros.
func (f Family) NonceWidthBytes() int {
	if f == FamilyBitmain {
		return 4
	}
	return 8
}

// DetectFamily fingerprints the mining.subscribe user-agent string. Unknown
// agents are treated as IceRiver-compatible (2-byte extranonce) since that
// is the most common fallback shape among undocumented firmware.
func DetectFamily(userAgent string) Family {
	agent := strings.ToLower(userAgent)
	switch {
	case strings.Contains(agent, "iceriverminer"):
		return FamilyIceRiver
	case strings.Contains(agent, "bzminer"):
		return FamilyBzMiner
	case strings.Contains(agent, "goldshell"):
		return FamilyGoldshell
	case strings.Contains(agent, "godminer"), strings.Contains(agent, "bitmain"):
		return FamilyBitmain
	default:
		return FamilyUnknown
	}
}

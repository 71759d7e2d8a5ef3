package frame

import (
	"encoding/json"
	"testing"
)

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"low", Low, false},
		{"medium", Medium, false},
		{"high", High, false},
		{"HIGH", High, false},
		{"  Medium ", Medium, false},
		{"ultra", Low, true},
		{"", Low, true},
	}

	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTier(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTier(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTier(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTierJSONRoundTrip(t *testing.T) {
	for _, tier := range Tiers() {
		data, err := json.Marshal(tier)
		if err != nil {
			t.Fatalf("marshal %s: %v", tier, err)
		}
		var back Tier
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != tier {
			t.Errorf("round trip %s: got %s", tier, back)
		}
	}
}

func TestTierUnmarshalRejectsUnknownName(t *testing.T) {
	var tier Tier
	if err := json.Unmarshal([]byte(`"ultra"`), &tier); err == nil {
		t.Error("expected error for unknown tier name")
	}
}

func TestDefaultTierSettingsCoversAllTiers(t *testing.T) {
	settings := DefaultTierSettings()
	for _, tier := range Tiers() {
		s, ok := settings[tier]
		if !ok {
			t.Fatalf("no settings for tier %s", tier)
		}
		if s.ScalePercent <= 0 || s.ScalePercent > 100 {
			t.Errorf("%s: bad scale %d", tier, s.ScalePercent)
		}
		if s.JPEGQuality <= 0 || s.JPEGQuality > 100 {
			t.Errorf("%s: bad jpeg quality %d", tier, s.JPEGQuality)
		}
	}
}

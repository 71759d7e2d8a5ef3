package frame

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is one of the fixed quality presets a viewer can select.
type Tier int

const (
	Low Tier = iota
	Medium
	High
)

var tierNames = map[Tier]string{
	Low:    "low",
	Medium: "medium",
	High:   "high",
}

var tierFromName = map[string]Tier{
	"low":    Low,
	"medium": Medium,
	"high":   High,
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseTier maps a tier name to its Tier, case-insensitively.
func ParseTier(s string) (Tier, error) {
	if t, ok := tierFromName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t, nil
	}
	return Low, fmt.Errorf("unknown quality tier %q", s)
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Tiers lists every tier in ascending quality order.
func Tiers() []Tier {
	return []Tier{Low, Medium, High}
}

// TierSettings holds the resample scale and JPEG quality for one tier.
type TierSettings struct {
	ScalePercent int `yaml:"scale" json:"scale"`
	JPEGQuality  int `yaml:"jpeg_quality" json:"jpegQuality"`
}

// DefaultTierSettings returns the stock quality table.
func DefaultTierSettings() map[Tier]TierSettings {
	return map[Tier]TierSettings{
		High:   {ScalePercent: 100, JPEGQuality: 95},
		Medium: {ScalePercent: 85, JPEGQuality: 85},
		Low:    {ScalePercent: 70, JPEGQuality: 75},
	}
}

package main

import "strings"

// WeaponCategory groups weapons that share a tuning profile.
type WeaponCategory int

const (
	WeaponRifle WeaponCategory = iota
	WeaponAWP
	WeaponPistol
	WeaponSMG
	WeaponKnife
	WeaponOther
)

var weaponCategoryNames = [...]string{"RIFLE", "AWP", "PISTOL", "SMG", "KNIFE", "OTHER"}

func (c WeaponCategory) String() string {
	if c < 0 || int(c) >= len(weaponCategoryNames) {
		return "OTHER"
	}
	return weaponCategoryNames[c]
}

// MarshalText renders the category by name in JSON payloads.
func (c WeaponCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// categorizeWeaponType maps the game's weapon type string to a category.
func categorizeWeaponType(typ string) WeaponCategory {
	switch typ {
	case "Rifle", "Machine Gun":
		return WeaponRifle
	case "SniperRifle":
		return WeaponAWP
	case "Pistol":
		return WeaponPistol
	case "Submachine Gun", "Shotgun":
		return WeaponSMG
	case "Knife":
		return WeaponKnife
	default:
		return WeaponOther
	}
}

type weaponSpeed struct {
	substrings []string
	speed      float64
}

// The first matching row wins.
var weaponSpeeds = []weaponSpeed{
	{[]string{"knife", "bayonet"}, 250},
	{[]string{"awp"}, 200},
	{[]string{"ak47"}, 215},
	{[]string{"m4a1"}, 225},
	{[]string{"deagle", "revolver"}, 230},
	{[]string{"ssg08"}, 230},
	{[]string{"g3sg1", "scar20"}, 215},
	{[]string{"galil"}, 215},
	{[]string{"famas"}, 220},
	{[]string{"aug"}, 220},
	{[]string{"sg556"}, 210},
	{[]string{"glock", "hkp2000", "usp", "p250", "fiveseven", "tec9", "cz75", "elite"}, 240},
	{[]string{"mp9", "mac10", "bizon"}, 240},
	{[]string{"ump45", "p90"}, 230},
	{[]string{"mp7", "mp5"}, 220},
	{[]string{"negev"}, 150},
	{[]string{"m249"}, 195},
	{[]string{"nova", "mag7", "sawedoff"}, 220},
	{[]string{"xm1014"}, 215},
	{[]string{"c4", "flashbang", "hegrenade", "smokegrenade", "molotov", "incgrenade", "decoy"}, 245},
}

// weaponMaxSpeed returns the running speed (units/s) for a weapon name such
// as "weapon_ak47".
func weaponMaxSpeed(name string) float64 {
	if name == "" {
		return defaultMaxSpeed
	}
	for _, row := range weaponSpeeds {
		for _, sub := range row.substrings {
			if strings.Contains(name, sub) {
				return row.speed
			}
		}
	}
	return defaultMaxSpeed
}

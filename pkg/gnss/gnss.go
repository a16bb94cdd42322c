// Package gnss contains common constants and type definitions shared by
// every RINEX record type: the satellite system enum and the satellite
// identifier (PRN) used to key observations, ephemerides and clock
// products alike.
package gnss

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// System is a satellite system.
type System int

// Available satellite systems.
const (
	SysGPS System = iota + 1
	SysGLO
	SysGAL
	SysQZSS
	SysBDS
	SysIRNSS
	SysSBAS
	SysMIXED
)

// SysNavIC is the IGS-preferred name for the Indian constellation;
// IRNSS and NavIC refer to the same system.
const SysNavIC = SysIRNSS

func (sys System) String() string {
	return [...]string{"", "GPS", "GLO", "GAL", "QZSS", "BDS", "NavIC", "SBAS", "MIXED"}[sys]
}

// Abbr returns the system's one-letter abbreviation used in RINEX,
// e.g. as the leading character of a PRN or an observable code table key.
func (sys System) Abbr() string {
	return [...]string{"", "G", "R", "E", "J", "C", "I", "S", "M"}[sys]
}

// MarshalJSON renders the system by its RINEX abbreviation.
func (sys System) MarshalJSON() ([]byte, error) {
	return json.Marshal(sys.Abbr())
}

// ByAbbr maps a RINEX one-letter constellation code to its System.
var ByAbbr = map[string]System{
	"G": SysGPS,
	"R": SysGLO,
	"E": SysGAL,
	"J": SysQZSS,
	"C": SysBDS,
	"I": SysIRNSS,
	"S": SysSBAS,
	"M": SysMIXED,
}

var byName = map[string]System{
	"GPS": SysGPS, "GLO": SysGLO, "GAL": SysGAL, "QZSS": SysQZSS,
	"BDS": SysBDS, "IRNSS": SysIRNSS, "NAVIC": SysIRNSS, "SBAS": SysSBAS,
	"MIXED": SysMIXED,
}

// Systems specifies a list of satellite systems.
type Systems []System

// String returns the contained systems joined sitelog-style, e.g. "GPS+GLO".
func (syss Systems) String() string {
	str := make([]string, 0, len(syss))
	for _, sys := range syss {
		str = append(str, sys.String())
	}
	return strings.Join(str, "+")
}

// ParseSatSystems parses a '+'-joined list of system names, e.g.
// "GPS+GLO+GAL+BDS+SBAS+IRNSS", as used in site logs and RINEX header
// comments that enumerate a station's tracked constellations.
func ParseSatSystems(s string) (Systems, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	syss := make(Systems, 0, len(parts))
	for _, p := range parts {
		sys, ok := byName[strings.ToUpper(strings.TrimSpace(p))]
		if !ok {
			return nil, fmt.Errorf("gnss: unknown satellite system: %q", p)
		}
		syss = append(syss, sys)
	}
	return syss, nil
}

// PRN identifies a single space vehicle by satellite system and PRN
// number within that system.
type PRN struct {
	Sys System
	Num int8
}

// NewPRN parses a 3-character RINEX SV code such as "G07" or "R18". The
// leading system letter may be a space in legacy single-constellation
// files, in which case the caller must set Sys from header context
// afterwards.
func NewPRN(s string) (PRN, error) {
	if len(s) != 3 {
		return PRN{}, fmt.Errorf("gnss: invalid PRN length: %q", s)
	}

	abbr := string(s[0])
	num, err := strconv.Atoi(strings.TrimSpace(s[1:3]))
	if err != nil {
		return PRN{}, fmt.Errorf("gnss: parse PRN number %q: %w", s, err)
	}

	if abbr == " " {
		return PRN{Num: int8(num)}, nil
	}

	sys, ok := ByAbbr[abbr]
	if !ok {
		return PRN{}, fmt.Errorf("gnss: unknown satellite system abbr: %q", abbr)
	}

	return PRN{Sys: sys, Num: int8(num)}, nil
}

// String renders the PRN in RINEX's fixed Xnn form, e.g. "G07".
func (prn PRN) String() string {
	return fmt.Sprintf("%s%02d", prn.Sys.Abbr(), prn.Num)
}

// ByPRN sorts a slice of PRN values by system then number.
type ByPRN []PRN

func (p ByPRN) Len() int      { return len(p) }
func (p ByPRN) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p ByPRN) Less(i, j int) bool {
	if p[i].Sys != p[j].Sys {
		return p[i].Sys < p[j].Sys
	}
	return p[i].Num < p[j].Num
}

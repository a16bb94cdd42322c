package crinex

import "github.com/gnss-go/rinex/pkg/gnss"

// CrinexSubHeader is the "CRINEX VERS / TYPE" / "CRINEX PROG / DATE"
// pair a CRINEX file carries in addition to its RINEX header. Its
// presence is what tells a reader the Observation records that follow
// are Hatanaka-compressed rather than canonical.
type CrinexSubHeader struct {
	Version string
	Program string
	Date    string
}

// Header is the minimal header view the core consumes: just enough to
// pick a wire format (RINEX major version), resolve bare SV codes in
// single-constellation files, and look up the observable table for a
// satellite's constellation.
type Header struct {
	// Major is the RINEX major version of the canonical records this
	// stream decompresses to / compresses from (2 or 3).
	Major int
	// Constellation is the file's declared single constellation, used
	// to fill in SV codes whose leading letter was omitted. It is the
	// zero value (or gnss.SysMIXED) for mixed-constellation files.
	Constellation gnss.System
	// Observables maps each constellation to its ordered observable
	// code list, defining column order on every satellite's data line.
	Observables map[gnss.System][]string
	// Crinex is non-nil when the source stream is CRINEX-compressed.
	Crinex *CrinexSubHeader
}

// IsV3 reports whether the canonical records use the RINEX3 (single
// line, "> " prefixed epoch, per-line SV code) wire layout.
func (h *Header) IsV3() bool {
	return h.Major >= 3
}

// ObservablesFor returns the ordered observable codes for sv's
// constellation, injecting the header's single constellation when sv's
// own constellation tag is absent (bare PRN from an old single-GNSS
// file).
func (h *Header) ObservablesFor(sv gnss.PRN) ([]string, error) {
	sys := sv.Sys
	if sys == 0 {
		sys = h.Constellation
	}
	obs, ok := h.Observables[sys]
	if !ok {
		return nil, newErr(MissingSpec, false, "no observables for system %s (sv %s)", sys, sv)
	}
	return obs, nil
}

// ResolveSV fills in sv's constellation from the header when sv was
// parsed from a bare (letterless) SV code.
func (h *Header) ResolveSV(sv gnss.PRN) gnss.PRN {
	if sv.Sys == 0 {
		sv.Sys = h.Constellation
	}
	return sv
}

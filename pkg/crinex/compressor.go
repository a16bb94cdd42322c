package crinex

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gnss-go/rinex/pkg/gnss"
)

// svSlotEnc is the encoder-side mirror of svSlot. active tracks
// whether the satellite appeared in the immediately preceding epoch:
// a gap forces every observable of that satellite to re-initialize on
// its next appearance, since a NumDiff history built against epoch N
// does not predict epoch N+2 once N+1 skipped the satellite entirely.
type svSlotEnc struct {
	values  []*NumDiff
	present []bool
	flags   *TextDiff
	active  bool
}

// Compressor turns a canonical RINEX observation body into its
// Hatanaka-compressed (CRINEX) form. It mirrors Decompressor state for
// state; the same RINEX FILE SPLICE comment that resets a decompressor
// also resets a compressor, so two halves of a file compressed
// separately before being concatenated could in principle ever be
// re-split and re-compressed without a discontinuity.
type Compressor struct {
	header *Header

	descDiff  *TextDiff
	clockDiff *NumDiff

	wroteFirstEpoch bool
	sats            map[gnss.PRN]*svSlotEnc
}

// NewCompressor returns a Compressor that will produce CRINEX text
// according to header.
func NewCompressor(header *Header) *Compressor {
	return &Compressor{
		header:    header,
		descDiff:  NewTextDiff(),
		clockDiff: NewNumDiff(),
		sats:      make(map[gnss.PRN]*svSlotEnc),
	}
}

func (c *Compressor) reset() {
	c.descDiff = NewTextDiff()
	c.clockDiff = NewNumDiff()
	c.wroteFirstEpoch = false
	c.sats = make(map[gnss.PRN]*svSlotEnc)
}

// Compress reads a canonical RINEX observation body from r and writes
// its Hatanaka-compressed form to w. Per-epoch failures (a malformed
// descriptor, a truncated continuation line) resync at the next
// descriptor rather than aborting the stream; per-SV failures
// (unresolvable SV code or observable table) drop just that
// satellite's line.
func (c *Compressor) Compress(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	bw := bufio.NewWriter(w)
	defer bw.Flush()

	for scanner.Scan() {
		line := scanner.Text()

		if strings.Contains(line, spliceMarker) {
			c.reset()
			fmt.Fprintln(bw, line)
			continue
		}
		if isCommentBody(line) {
			fmt.Fprintln(bw, line)
			continue
		}

		desc, raw, err := c.readDescriptor(scanner, line)
		if err != nil {
			if isFatal(err) {
				return err
			}
			continue
		}

		if desc.Flag.IsEvent() {
			if err := c.passthroughEvent(scanner, bw, desc, raw); err != nil {
				if isFatal(err) {
					return err
				}
			}
			continue
		}

		fmt.Fprintln(bw, c.encodeDescriptorLine(raw))

		clockLine, err := formatClockOffsetLine(c.clockDiff, desc.ClockOffsetSeconds)
		if err != nil {
			if isFatal(err) {
				return err
			}
			clockLine = ""
		}
		fmt.Fprintln(bw, clockLine)

		seen := make(map[gnss.PRN]bool, desc.NumSat)
		for i := 0; i < desc.NumSat; i++ {
			if !scanner.Scan() {
				return newErr(MalformedDescriptor, false, "body truncated: expected %d satellite lines, got %d", desc.NumSat, i)
			}
			canon := scanner.Text()

			var sv gnss.PRN
			var rest string
			if c.header.IsV3() {
				if len(canon) < 3 {
					continue // SvParsing: SV skipped
				}
				sv, err = gnss.NewPRN(canon[:3])
				if err != nil {
					continue // SvParsing: SV skipped
				}
				rest = canon[3:]
			} else {
				sv = c.header.ResolveSV(desc.Sats[i])
				obsCodes, oerr := c.header.ObservablesFor(sv)
				if oerr != nil {
					continue // MissingSpec: SV skipped
				}
				joined, jerr := c.joinV2Continuation(scanner, len(obsCodes), canon)
				if jerr != nil {
					if isFatal(jerr) {
						return jerr
					}
					continue
				}
				rest = joined
			}
			seen[sv] = true

			out, err := c.encodeSatLine(sv, rest)
			if err != nil {
				if isFatal(err) {
					return err
				}
				continue // MissingSpec: SV skipped
			}
			fmt.Fprintln(bw, out)
		}

		for sv, slot := range c.sats {
			slot.active = seen[sv]
		}
	}
	if err := scanner.Err(); err != nil {
		return wrapErr(Utf8, true, err, "reading rinex stream")
	}
	return nil
}

// joinV2Continuation reads and concatenates the continuation physical
// lines of a RINEX2 satellite body that wraps (more than obsPerLine
// observables), padding every non-final line to its full width so
// observable slot boundaries stay aligned regardless of how much
// trailing whitespace the source file trimmed.
func (c *Compressor) joinV2Continuation(scanner *bufio.Scanner, nObs int, first string) (string, error) {
	if nObs <= obsPerLine {
		return first, nil
	}
	lineWidth := obsPerLine * obsSlotWidth
	pad := func(s string) string {
		if len(s) >= lineWidth {
			return s[:lineWidth]
		}
		return s + strings.Repeat(" ", lineWidth-len(s))
	}

	nLines := (nObs + obsPerLine - 1) / obsPerLine
	var sb strings.Builder
	sb.WriteString(pad(first))
	for k := 1; k < nLines; k++ {
		if !scanner.Scan() {
			return "", newErr(MalformedDescriptor, false, "sv body truncated: expected %d continuation lines", nLines-1)
		}
		line := scanner.Text()
		if k == nLines-1 {
			sb.WriteString(line)
		} else {
			sb.WriteString(pad(line))
		}
	}
	return sb.String(), nil
}

// readDescriptor reads (and, for v2, joins continuation lines of) one
// canonical epoch descriptor starting at first, returning the parsed
// fields and the wire-format text: the canonical descriptor with any
// trailing inline clock-offset field stripped off, since a genuine
// CRINEX wire descriptor never carries that field — it occupies the
// separate ClockOffsetDescriptor line instead. peekNumSatV2 determines
// whether continuation lines are needed without requiring a full
// single-line parse to succeed first, since that parse would itself
// fail on a wrapped (>12 satellite) descriptor.
func (c *Compressor) readDescriptor(scanner *bufio.Scanner, first string) (*descriptor, string, error) {
	marker := byte('&')
	if c.header.IsV3() {
		marker = '>'
	}
	raw := string(marker) + first[1:]
	if c.header.IsV3() {
		d, err := parseDescriptorV3(raw)
		if err != nil {
			return nil, "", err
		}
		return d, stripV3ClockField(raw), nil
	}

	numSat, err := peekNumSatV2(raw)
	if err != nil {
		return nil, "", err
	}
	if numSat > satPerLine {
		// The first physical line holds only the first satPerLine
		// satellite codes; anything after that is an inline clock
		// offset belonging at the very end of the full (joined) SV
		// list, not in the middle of it, so it is set aside before
		// continuation codes are appended and restored afterward.
		firstLineSatEnd := v1SatListOffset + satPerLine*3
		var clockSuffix string
		if len(raw) > firstLineSatEnd {
			clockSuffix = raw[firstLineSatEnd:]
			raw = raw[:firstLineSatEnd]
		}
		for got := satPerLine; got < numSat; got += satPerLine {
			if !scanner.Scan() {
				return nil, "", newErr(MalformedDescriptor, false, "descriptor truncated: expected continuation for %d satellites", numSat)
			}
			cont := strings.TrimRight(scanner.Text(), " ")
			if len(cont) > v2ContinuationIndent {
				raw += cont[v2ContinuationIndent:]
			}
		}
		raw += clockSuffix
	}
	d, err := parseDescriptorV2(raw)
	if err != nil {
		return nil, "", err
	}
	satListEnd := v1SatListOffset + d.NumSat*3
	if satListEnd < len(raw) {
		raw = raw[:satListEnd]
	}
	return d, raw, nil
}

// stripV3ClockField removes a trailing inline clock-offset field (the
// 9th whitespace-delimited field) from a canonical v3 descriptor line,
// leaving only the date/flag/numsat fields a wire descriptor carries.
func stripV3ClockField(buf string) string {
	rest := buf[1:]
	fieldsSeen := 0
	inField := false
	for i, r := range rest {
		if r == ' ' || r == '\t' {
			inField = false
			continue
		}
		if !inField {
			inField = true
			fieldsSeen++
			if fieldsSeen == 9 {
				return strings.TrimRight(buf[:1+i], " ")
			}
		}
	}
	return buf
}

func (c *Compressor) encodeDescriptorLine(raw string) string {
	if !c.wroteFirstEpoch {
		c.descDiff.Init(raw)
		c.wroteFirstEpoch = true
		return raw
	}
	return c.descDiff.Diff(raw)
}

func (c *Compressor) passthroughEvent(scanner *bufio.Scanner, bw *bufio.Writer, desc *descriptor, raw string) error {
	fmt.Fprintln(bw, c.encodeDescriptorLine(raw))
	for i := 0; i < desc.NumSat; i++ {
		if !scanner.Scan() {
			return newErr(MalformedDescriptor, false, "event epoch truncated: expected %d lines, got %d", desc.NumSat, i)
		}
		fmt.Fprintln(bw, scanner.Text())
	}
	return nil
}

func (c *Compressor) slotFor(sv gnss.PRN, nObs int) *svSlotEnc {
	s, ok := c.sats[sv]
	if !ok {
		s = &svSlotEnc{
			values:  make([]*NumDiff, nObs),
			present: make([]bool, nObs),
			flags:   NewTextDiff(),
		}
		c.sats[sv] = s
	}
	return s
}

// encodeSatLine is the inverse of decodeSatLine: it slices canon into
// fixed 16-byte observation slots, differences each present value
// against the satellite's running NumDiff history, and emits a
// whitespace-joined token line plus a trailing diffed flags block.
//
// An observable that was absent in the previous epoch (or whose
// satellite was entirely absent, per active) is forced to re-initialize
// with an explicit "order&value" token rather than a plain difference,
// since there is no valid history to continue from. A slot whose
// source text fails to parse is treated the same as an absent
// observation rather than aborting the whole satellite line.
func (c *Compressor) encodeSatLine(sv gnss.PRN, canon string) (string, error) {
	obsCodes, err := c.header.ObservablesFor(sv)
	if err != nil {
		return "", err
	}
	slot := c.slotFor(sv, len(obsCodes))
	gap := !slot.active

	var flagsLit strings.Builder
	tokens := make([]string, len(obsCodes))
	for i := range obsCodes {
		lo := i * obsSlotWidth
		hi := lo + obsSlotWidth
		var raw string
		if lo < len(canon) {
			if hi > len(canon) {
				hi = len(canon)
			}
			raw = canon[lo:hi]
		}
		present, value, lli, ssi, perr := parseObsSlot(raw)
		if perr != nil {
			// NumericParse: treat the slot as an absent observation.
			present = false
		}

		wasPresent := i < len(slot.present) && slot.present[i]
		switch {
		case !present:
			tokens[i] = ""
			slot.present[i] = false
			slot.values[i] = nil
		case !wasPresent || gap || slot.values[i] == nil:
			order := slot.values[i].orderOrDefault()
			nd := NewNumDiff()
			scaled := scaleValue(value)
			if err := nd.Init(order, scaled); err != nil {
				return "", err
			}
			slot.values[i] = nd
			slot.present[i] = true
			tokens[i] = fmt.Sprintf("%d&%d", order, scaled)
		default:
			d, cerr := slot.values[i].Compress(scaleValue(value))
			if cerr != nil {
				return "", cerr // IntegerOverflow: fatal to stream
			}
			slot.present[i] = true
			tokens[i] = strconv.FormatInt(d, 10)
		}
		if lli == ' ' {
			lli = '0'
		}
		if ssi == ' ' {
			ssi = '0'
		}
		flagsLit.WriteByte(lli)
		flagsLit.WriteByte(ssi)
	}

	// The flags chunk is always emitted at its full fixed width (two
	// characters per observable) and joined with a single separating
	// space: unlike value tokens it is never itself split on spaces, so
	// unchanged ("diffed to blank") runs inside it are safe.
	flagsDelta := slot.flags.Diff(flagsLit.String())
	line := strings.Join(tokens, " ") + " " + flagsDelta
	if c.header.IsV3() {
		line = sv.String() + line
	}
	return line, nil
}

// orderOrDefault returns the difference order a fresh NumDiff should
// reinitialize with: the order already configured, or the default
// third-order difference Hatanaka compression conventionally uses.
func (n *NumDiff) orderOrDefault() int {
	if n == nil || n.order == 0 {
		return defaultDiffOrder
	}
	return n.order
}

// defaultDiffOrder is the difference order used on the very first
// observation of a satellite/observable pair, matching the order the
// reference compressor falls back to when nothing else pins it.
const defaultDiffOrder = 3

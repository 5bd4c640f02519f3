// Package tzdef reads and writes binary timezone definitions as stored on
// appointments (a versioned header followed by a list of rules, each rule
// holding a bias and optional standard/daylight transition descriptors).
package tzdef

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

const (
	majorVersion = 0x02
	minorVersion = 0x01
	ruleSize     = 0x3E

	flagValidGUID    uint16 = 0x0001
	flagValidKeyName uint16 = 0x0002
)

// Rule flags.
const (
	RuleFlagRecurCurrent uint16 = 0x0001
	RuleFlagEffective    uint16 = 0x0002
)

var (
	ErrTruncated   = errors.New("tzdef: truncated definition")
	ErrBadVersion  = errors.New("tzdef: unsupported version")
	utf16LE        = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	zeroGUID       [16]byte
	byteOrder      = binary.LittleEndian
	errEmptyHeader = fmt.Errorf("%w: header", ErrTruncated)
)

// Definition is a parsed timezone definition.
type Definition struct {
	GUID    [16]byte
	KeyName string
	Rules   []Rule
}

// Rule is one timezone rule. Biases are in minutes with UTC = local + bias.
type Rule struct {
	Flags        uint16
	Year         uint16
	Bias         int32
	StandardBias int32
	DaylightBias int32
	Standard     Transition
	Daylight     Transition
}

// ruleWire is the on-disk layout of a rule.
type ruleWire struct {
	Major        uint8
	Minor        uint8
	Size         uint16
	Flags        uint16
	Year         uint16
	X            [14]byte
	Bias         int32
	StandardBias int32
	DaylightBias int32
	Standard     Transition
	Daylight     Transition
}

// Parse decodes a timezone definition blob.
func Parse(b []byte) (*Definition, error) {
	if len(b) < 4 {
		return nil, errEmptyHeader
	}
	if b[0] != majorVersion {
		return nil, fmt.Errorf("%w: %d.%d", ErrBadVersion, b[0], b[1])
	}
	cbHeader := int(byteOrder.Uint16(b[2:4]))
	if len(b) < 4+cbHeader {
		return nil, errEmptyHeader
	}

	r := bytes.NewReader(b[4 : 4+cbHeader])
	var def Definition
	var flags uint16
	if err := binary.Read(r, byteOrder, &flags); err != nil {
		return nil, errEmptyHeader
	}
	if flags&flagValidGUID != 0 {
		if _, err := io.ReadFull(r, def.GUID[:]); err != nil {
			return nil, errEmptyHeader
		}
	}
	if flags&flagValidKeyName != 0 {
		var cch uint16
		if err := binary.Read(r, byteOrder, &cch); err != nil {
			return nil, errEmptyHeader
		}
		raw := make([]byte, int(cch)*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, errEmptyHeader
		}
		name, err := utf16LE.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, err
		}
		def.KeyName = string(name)
	}
	var count uint16
	if err := binary.Read(r, byteOrder, &count); err != nil {
		return nil, errEmptyHeader
	}

	off := 4 + cbHeader
	for i := 0; i < int(count); i++ {
		if len(b) < off+4 {
			return nil, fmt.Errorf("%w: rule %d", ErrTruncated, i)
		}
		size := int(byteOrder.Uint16(b[off+2 : off+4]))
		if size < ruleSize || len(b) < off+4+size {
			return nil, fmt.Errorf("%w: rule %d", ErrTruncated, i)
		}
		var w ruleWire
		if err := binary.Read(bytes.NewReader(b[off:off+4+ruleSize]), byteOrder, &w); err != nil {
			return nil, fmt.Errorf("%w: rule %d", ErrTruncated, i)
		}
		def.Rules = append(def.Rules, Rule{
			Flags:        w.Flags,
			Year:         w.Year,
			Bias:         w.Bias,
			StandardBias: w.StandardBias,
			DaylightBias: w.DaylightBias,
			Standard:     w.Standard,
			Daylight:     w.Daylight,
		})
		off += 4 + size
	}
	return &def, nil
}

// Marshal encodes the definition.
func (d *Definition) Marshal() []byte {
	var header bytes.Buffer
	var flags uint16
	if d.GUID != zeroGUID {
		flags |= flagValidGUID
	}
	var name []byte
	if d.KeyName != "" {
		flags |= flagValidKeyName
		// Encoding valid UTF-8 to UTF-16 cannot fail; invalid bytes are replaced.
		name, _ = utf16LE.NewEncoder().Bytes([]byte(d.KeyName))
	}
	_ = binary.Write(&header, byteOrder, flags)
	if flags&flagValidGUID != 0 {
		header.Write(d.GUID[:])
	}
	if flags&flagValidKeyName != 0 {
		_ = binary.Write(&header, byteOrder, uint16(len(name)/2))
		header.Write(name)
	}
	_ = binary.Write(&header, byteOrder, uint16(len(d.Rules)))

	var out bytes.Buffer
	out.WriteByte(majorVersion)
	out.WriteByte(minorVersion)
	_ = binary.Write(&out, byteOrder, uint16(header.Len()))
	out.Write(header.Bytes())
	for _, r := range d.Rules {
		_ = binary.Write(&out, byteOrder, ruleWire{
			Major:        majorVersion,
			Minor:        minorVersion,
			Size:         ruleSize,
			Flags:        r.Flags,
			Year:         r.Year,
			Bias:         r.Bias,
			StandardBias: r.StandardBias,
			DaylightBias: r.DaylightBias,
			Standard:     r.Standard,
			Daylight:     r.Daylight,
		})
	}
	return out.Bytes()
}

// EffectiveRule returns the index of the first rule flagged effective.
func (d *Definition) EffectiveRule() (int, bool) {
	for i, r := range d.Rules {
		if r.Flags&RuleFlagEffective != 0 {
			return i, true
		}
	}
	return -1, false
}

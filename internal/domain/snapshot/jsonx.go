package snapshot

import (
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// The helpers below are shared by the entity codecs. Stored snapshots come
// from older clients and other tools, so decoding is lenient: numbers may be
// quoted, strings may be numbers, and null reads as the zero value.

// DecodeString reads a string, a number rendered as text, or null.
func DecodeString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return d.Str()
	}
}

// DecodeDecimal reads a number or a numeric string. null reads as zero.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Null:
		return decimal.Zero, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse %q", s)
		}
		return v, nil
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "parse %q", n.String())
		}
		return v, nil
	}
}

// DecodeNullDecimal is DecodeDecimal that keeps null distinguishable.
func DecodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := DecodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

var (
	minInt = decimal.NewFromInt(math.MinInt)
	maxInt = decimal.NewFromInt(math.MaxInt)
)

// DecodeInt reads an integer, truncating fractional or quoted numbers.
// Values outside the range of int are an error.
func DecodeInt(d *jx.Decoder) (int, error) {
	v, err := DecodeDecimal(d)
	if err != nil {
		return 0, err
	}
	v = v.Truncate(0)
	if v.LessThan(minInt) || v.GreaterThan(maxInt) {
		return 0, errors.Errorf("integer %s out of range", v)
	}
	return int(v.IntPart()), nil
}

// DecodeTime reads epoch milliseconds or an RFC 3339 string.
func DecodeTime(d *jx.Decoder) (time.Time, error) {
	switch d.Next() {
	case jx.Null:
		return time.Time{}, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "parse time %q", s)
		}
		return t.UTC(), nil
	default:
		ms, err := d.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

// EncodeDecimal writes v as a bare JSON number.
func EncodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}

// EncodeTime writes t as epoch milliseconds.
func EncodeTime(e *jx.Encoder, t time.Time) {
	e.Int64(t.UnixMilli())
}

package cart

import (
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

var _ snapshot.Codec[Line] = Codec{}

// Codec encodes cart snapshots as a JSON array of line objects.
//
// Decoding drops lines without a product or with a non-positive quantity and
// merges repeated products, so a decoded snapshot always satisfies the cart
// invariants.
type Codec struct{}

// Encode implements snapshot.Codec.
func (Codec) Encode(lines []Line) ([]byte, error) {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("title")
		e.Str(l.Title)
		e.FieldStart("image")
		e.Str(l.Image)
		e.FieldStart("unitPrice")
		snapshot.EncodeDecimal(&e, l.UnitPrice)
		if l.OriginalUnitPrice.Valid {
			e.FieldStart("originalUnitPrice")
			snapshot.EncodeDecimal(&e, l.OriginalUnitPrice.Decimal)
		}
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		if l.Slug != "" {
			e.FieldStart("slug")
			e.Str(l.Slug)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes(), nil
}

// Decode implements snapshot.Codec.
func (Codec) Decode(data []byte) ([]Line, error) {
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var lines []Line
	index := make(map[string]int)
	if err := d.Arr(func(d *jx.Decoder) error {
		l, err := decodeLine(d)
		if err != nil {
			return err
		}
		if l.ProductID == "" || l.Quantity <= 0 {
			return nil
		}
		if i, ok := index[l.ProductID]; ok {
			if lines[i].Quantity > math.MaxInt-l.Quantity {
				return errors.Errorf("quantity of %q out of range", l.ProductID)
			}
			lines[i].Quantity += l.Quantity
			return nil
		}
		index[l.ProductID] = len(lines)
		lines = append(lines, l)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart lines")
	}
	return lines, nil
}

func decodeLine(d *jx.Decoder) (Line, error) {
	var l Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			l.ProductID, err = snapshot.DecodeString(d)
		case "title":
			l.Title, err = snapshot.DecodeString(d)
		case "image":
			l.Image, err = snapshot.DecodeString(d)
		case "unitPrice":
			l.UnitPrice, err = snapshot.DecodeDecimal(d)
		case "originalUnitPrice":
			l.OriginalUnitPrice, err = snapshot.DecodeNullDecimal(d)
		case "quantity":
			l.Quantity, err = snapshot.DecodeInt(d)
		case "slug":
			l.Slug, err = snapshot.DecodeString(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return l, err
}

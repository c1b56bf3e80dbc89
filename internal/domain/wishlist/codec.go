package wishlist

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

var _ snapshot.Codec[Entry] = Codec{}

// Codec encodes wishlist snapshots as a JSON array of entry objects. Entries
// without a product are dropped on decode; a repeated product keeps its
// first occurrence.
type Codec struct{}

// Encode implements snapshot.Codec.
func (Codec) Encode(entries []Entry) ([]byte, error) {
	var e jx.Encoder
	e.ArrStart()
	for _, en := range entries {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(en.ProductID)
		e.FieldStart("title")
		e.Str(en.Title)
		e.FieldStart("unitPrice")
		snapshot.EncodeDecimal(&e, en.UnitPrice)
		e.FieldStart("image")
		e.Str(en.Image)
		if en.Slug != "" {
			e.FieldStart("slug")
			e.Str(en.Slug)
		}
		e.FieldStart("addedAt")
		snapshot.EncodeTime(&e, en.AddedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes(), nil
}

// Decode implements snapshot.Codec.
func (Codec) Decode(data []byte) ([]Entry, error) {
	d := jx.DecodeBytes(data)
	if d.Next() == jx.Null {
		return nil, nil
	}

	var entries []Entry
	seen := make(map[string]struct{})
	if err := d.Arr(func(d *jx.Decoder) error {
		var en Entry
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				en.ProductID, err = snapshot.DecodeString(d)
			case "title":
				en.Title, err = snapshot.DecodeString(d)
			case "unitPrice":
				en.UnitPrice, err = snapshot.DecodeDecimal(d)
			case "image":
				en.Image, err = snapshot.DecodeString(d)
			case "slug":
				en.Slug, err = snapshot.DecodeString(d)
			case "addedAt":
				en.AddedAt, err = snapshot.DecodeTime(d)
			default:
				err = d.Skip()
			}
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			return nil
		}); err != nil {
			return err
		}

		if en.ProductID == "" {
			return nil
		}
		if _, ok := seen[en.ProductID]; ok {
			return nil
		}
		seen[en.ProductID] = struct{}{}
		entries = append(entries, en)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode wishlist entries")
	}
	return entries, nil
}

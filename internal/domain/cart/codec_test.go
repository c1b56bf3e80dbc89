package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Encode(t *testing.T) {
	data, err := Codec{}.Encode([]Line{{
		ProductID:         "p1",
		Title:             "Waffle",
		Image:             "w.jpg",
		UnitPrice:         decimal.RequireFromString("6.50"),
		OriginalUnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("8")),
		Quantity:          2,
		Slug:              "waffle",
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"productId": "p1",
		"title": "Waffle",
		"image": "w.jpg",
		"unitPrice": 6.5,
		"originalUnitPrice": 8,
		"quantity": 2,
		"slug": "waffle"
	}]`, string(data))

	empty, err := Codec{}.Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestCodec_Decode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Line
	}{
		{
			name:  "Null",
			input: `null`,
		},
		{
			name:  "Empty",
			input: `[]`,
		},
		{
			name:  "Lenient",
			input: `[{"productId": 7, "unitPrice": "2.25", "quantity": "3", "extra": {"a": [1]}, "title": null}]`,
			want: []Line{{
				ProductID: "7",
				UnitPrice: decimal.RequireFromString("2.25"),
				Quantity:  3,
			}},
		},
		{
			name:  "DropsInvalid",
			input: `[{"productId": "", "quantity": 1}, {"productId": "p1", "quantity": 0}, {"productId": "p2", "quantity": -1}]`,
		},
		{
			name:  "MergesDuplicates",
			input: `[{"productId": "p1", "unitPrice": 1, "quantity": 1}, {"productId": "p1", "unitPrice": 1, "quantity": 2}]`,
			want: []Line{{
				ProductID: "p1",
				UnitPrice: decimal.RequireFromString("1"),
				Quantity:  3,
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Codec{}.Decode([]byte(tt.input))
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].ProductID, got[i].ProductID)
				assert.Equal(t, tt.want[i].Quantity, got[i].Quantity)
				assert.True(t, tt.want[i].UnitPrice.Equal(got[i].UnitPrice))
				assert.False(t, got[i].OriginalUnitPrice.Valid)
			}
		})
	}
}

func TestCodec_DecodeCorrupted(t *testing.T) {
	for _, input := range []string{
		`{`,
		`{"productId": "p1"}`,
		`[{"quantity": "many"}]`,
		`[{"productId": "p1", "quantity": 1e30}]`,
		`[{"productId": "p1", "quantity": "-99999999999999999999"}]`,
		`[{"productId": "p1", "quantity": 9223372036854775807}, {"productId": "p1", "quantity": 1}]`,
	} {
		_, err := Codec{}.Decode([]byte(input))
		assert.Error(t, err, input)
	}
}

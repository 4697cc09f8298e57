package fieldval

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/model"
)

func textField(name string) model.Field {
	return model.Field{Name: name, Type: model.FieldTypeText}
}

func tableField(name string) model.Field {
	return model.Field{
		Name: name,
		Type: model.FieldTypeTable,
		TableColumns: []model.TableColumn{
			{Name: "tabletext", Type: model.FieldTypeText},
			{Name: "tablenumber", Type: model.FieldTypeNumber},
		},
	}
}

func TestValidate_Scalars(t *testing.T) {
	t.Parallel()

	v, err := Validate(textField("text"), "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", v.Str)
	require.Equal(t, model.FieldTypeText, v.Type)

	v, err = Validate(model.Field{Name: "num", Type: model.FieldTypeNumber}, 2.5)
	require.NoError(t, err)
	require.Equal(t, 2.5, v.Num)

	v, err = Validate(model.Field{Name: "num", Type: model.FieldTypeNumber}, 3)
	require.NoError(t, err)
	require.Equal(t, 3.0, v.Num)

	v, err = Validate(model.Field{Name: "flag", Type: model.FieldTypeBoolean}, true)
	require.NoError(t, err)
	require.True(t, v.Bool)
}

func TestValidate_ScalarShapeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		field model.Field
		raw   any
	}{
		{"number for text", textField("text"), 1.0},
		{"string for number", model.Field{Name: "num", Type: model.FieldTypeNumber}, "2.5"},
		{"truthy string for boolean", model.Field{Name: "flag", Type: model.FieldTypeBoolean}, "true"},
		{"number for boolean", model.Field{Name: "flag", Type: model.FieldTypeBoolean}, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.field, tc.raw)
			require.ErrorIs(t, err, errs.ErrInvalidFieldValue)
		})
	}
}

func TestValidate_NullClears(t *testing.T) {
	t.Parallel()
	v, err := Validate(textField("text"), nil)
	require.NoError(t, err)
	require.True(t, v.Cleared())
}

func TestValidate_List(t *testing.T) {
	t.Parallel()
	field := model.Field{Name: "tags", Type: model.FieldTypeList}

	v, err := Validate(field, []any{"a", "b", "a"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "a"}, v.List)

	v, err = Validate(field, []any{})
	require.NoError(t, err)
	require.Empty(t, v.List)
	require.False(t, v.Cleared())

	_, err = Validate(field, []any{"a", 1.0})
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)

	_, err = Validate(field, "a")
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)
}

func TestValidate_Table(t *testing.T) {
	t.Parallel()
	field := tableField("table")

	v, err := Validate(field, []any{
		map[string]any{"tabletext": "A", "tablenumber": 1.0},
		map[string]any{"tabletext": "B"},
	})
	require.NoError(t, err)
	require.Len(t, v.Rows, 2)
	require.Equal(t, "A", v.Rows[0]["tabletext"])
	require.Equal(t, 1.0, v.Rows[0]["tablenumber"])
	_, hasNumber := v.Rows[1]["tablenumber"]
	require.False(t, hasNumber, "missing cell stays absent, not zero")

	// Null cells are carried through.
	v, err = Validate(field, []any{map[string]any{"tabletext": nil}})
	require.NoError(t, err)
	require.Nil(t, v.Rows[0]["tabletext"])
}

func TestValidate_TableErrors(t *testing.T) {
	t.Parallel()
	field := tableField("table")

	// Plain string where a table is expected is an error, never a coercion.
	_, err := Validate(field, "not a list")
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)

	_, err = Validate(field, []any{"not a row"})
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)

	_, err = Validate(field, []any{map[string]any{"bogus": "x"}})
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)

	_, err = Validate(field, []any{map[string]any{"tablenumber": "NaN"}})
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)
}

func TestValidate_Files(t *testing.T) {
	t.Parallel()
	field := model.Field{Name: "files", Type: model.FieldTypeFiles}

	v, err := Validate(field, "ref-1")
	require.NoError(t, err)
	require.Equal(t, []string{"ref-1"}, v.Refs)

	v, err = Validate(field, []any{"ref-1", "ref-2"})
	require.NoError(t, err)
	require.Equal(t, []string{"ref-1", "ref-2"}, v.Refs)

	_, err = Validate(field, 7.0)
	require.ErrorIs(t, err, errs.ErrInvalidFieldValue)
}

func TestValidate_RoundTripShape(t *testing.T) {
	t.Parallel()

	field := tableField("table")
	raw := []any{
		map[string]any{"tabletext": "A", "tablenumber": 1.0},
		map[string]any{"tabletext": "B", "tablenumber": 2.0},
	}
	v, err := Validate(field, raw)
	require.NoError(t, err)
	require.Equal(t, raw, v.Submission())

	list := model.Field{Name: "tags", Type: model.FieldTypeChecklist}
	v, err = Validate(list, []any{"x", "y"})
	require.NoError(t, err)
	require.Equal(t, []any{"x", "y"}, v.Submission())
}

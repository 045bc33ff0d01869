package dashboard

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeMarian/bluedropwithvps/core"
)

func Test_validateLayout(t *testing.T) {
	fields := []Field{{Name: "level"}, {Name: " temperature "}}

	tests := []struct {
		name    string
		fields  []Field
		widgets []Widget
		want    []core.FieldError
	}{
		{name: "empty"},
		{name: "valid", fields: fields, widgets: []Widget{{ID: "w1", Field: "level"}, {ID: "w2", Field: "temperature"}}},
		{
			name:   "duplicate field",
			fields: append([]Field{{Name: "level"}}, fields...),
			want:   []core.FieldError{{Field: "fields", Error: "duplicate field name: level"}},
		},
		{
			name:    "duplicate widget & unknown field",
			fields:  fields,
			widgets: []Widget{{ID: "w1", Field: "level"}, {ID: "w1", Field: "level"}, {ID: "w2", Field: "volume"}},
			want: []core.FieldError{
				{Field: "widgets", Error: "duplicate widget id: w1"},
				{Field: "widgets", Error: "widget w2 refers to unknown field: volume"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLayout(tt.fields, tt.widgets)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			vErr, ok := err.(*core.ValidationError)
			require.True(t, ok, "got %T", err)
			assert.Equal(t, errInvalidLayout, vErr.Err)
			assert.Equal(t, tt.want, vErr.Fields)
		})
	}
}

func Test_ruleOpValidation(t *testing.T) {
	validate, translator := validator.New(), core.NewTranslator()
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)

	w := Widget{ID: "w1", Type: WidgetIndicator, Field: "level", Rules: []Rule{{Operator: OpGTE, Value: 1, Color: "green"}}}
	assert.NoError(t, validate.Struct(w))

	w.Rules[0].Operator = "=>"
	err := validate.Struct(w)
	require.Error(t, err)
	vErrs := err.(validator.ValidationErrors)
	require.Len(t, vErrs, 1)
	assert.Equal(t, "ruleop", vErrs[0].Tag())
}

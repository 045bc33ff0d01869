package dashboard

import (
	"fmt"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/JoeMarian/bluedropwithvps/core"
)

var (
	ruleOpTag  = "ruleop"
	ruleOpText = "operator must be one of " + strings.Join(ruleOperators, " ")

	errInvalidLayout = errors.New("invalid dashboard layout")
)

// InitValidators registers the dashboard validations & their translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(ruleOpTag, ruleOpValidation)
	core.RegisterCustomTranslation(validate, translator, ruleOpTag, ruleOpText)
}

func ruleOpValidation(fl validator.FieldLevel) bool {
	return core.StringInSlice(fl.Field().String(), ruleOperators)
}

// validateLayout checks what tags cannot: field names are unique and every widget points to an existing field.
func validateLayout(fields []Field, widgets []Widget) error {
	var fldErrs []core.FieldError

	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := core.CleanString(f.Name)
		if names[name] {
			fldErrs = append(fldErrs, core.FieldError{Field: "fields", Error: fmt.Sprintf("duplicate field name: %s", name)})
			continue
		}
		names[name] = true
	}

	widgetIDs := make(map[string]bool, len(widgets))
	for _, w := range widgets {
		if widgetIDs[w.ID] {
			fldErrs = append(fldErrs, core.FieldError{Field: "widgets", Error: fmt.Sprintf("duplicate widget id: %s", w.ID)})
			continue
		}
		widgetIDs[w.ID] = true
		if !names[w.Field] {
			fldErrs = append(fldErrs, core.FieldError{Field: "widgets", Error: fmt.Sprintf("widget %s refers to unknown field: %s", w.ID, w.Field)})
		}
	}

	if len(fldErrs) > 0 {
		return core.NewValidationError(errInvalidLayout, fldErrs...)
	}
	return nil
}

package definitions

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/leapstack-labs/leapdash/internal/template"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type validatorSvc struct {
	validate *validator.Validate
	trans    ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// getValidator returns the validator singleton with english messages and
// json field names.
func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if tag == "-" || tag == "" {
				return fld.Name
			}
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identifierRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterTranslation("identifier", trans,
			func(ut ut.Translator) error {
				return ut.Add("identifier", "{0} must be a letter or underscore followed by letters, digits or underscores", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				msg, _ := ut.T("identifier", fe.Field())
				return msg
			},
		)

		vSvc = &validatorSvc{validate: v, trans: trans}
	})
	return vSvc
}

// Validate checks a dashboard definition: struct constraints, the
// invariants of core.Dashboard.Check, option names, and that every
// placeholder in the query names a declared parameter or is a relative
// date. Failures are KindInvalidArgument, except a malformed query
// which keeps its templating kind.
func Validate(d *core.Dashboard) error {
	if d == nil {
		return core.Errorf(core.KindInvalidArgument, "validate", "dashboard is required")
	}
	svc := getValidator()

	if err := svc.validate.Struct(d); err != nil {
		return core.Wrap(err, core.KindInvalidArgument, "validate", svc.message(err))
	}
	if err := d.Check(); err != nil {
		return err
	}

	for i, v := range d.Visualizations {
		for _, o := range v.Options {
			if err := svc.validate.Var(o.Name, "required,identifier"); err != nil {
				return core.Errorf(core.KindInvalidArgument, "validate",
					"visualization %d: option %q: %s", i, o.Name, svc.message(err))
			}
			if _, err := core.ParseOptionType(string(o.Type)); err != nil {
				return core.Errorf(core.KindInvalidArgument, "validate",
					"visualization %d: option %q: %v", i, o.Name, err)
			}
		}
	}

	names, err := template.Placeholders(d.Query.Code)
	if err != nil {
		return err
	}
	var undeclared []string
	for _, name := range names {
		if _, ok := d.Parameter(name); ok {
			continue
		}
		if _, ok := template.ParseRelativeDate(name); ok {
			continue
		}
		undeclared = append(undeclared, name)
	}
	if len(undeclared) > 0 {
		return core.Errorf(core.KindInvalidArgument, "validate",
			"query references undeclared parameters: %s", strings.Join(undeclared, ", "))
	}
	return nil
}

// message returns the first translated validation message.
func (s *validatorSvc) message(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s: %s", strings.TrimPrefix(fe.Namespace(), "Dashboard."), fe.Translate(s.trans))
	}
	return err.Error()
}

package event

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/clinical-notify/internal/apperr"
)

// requiredFields lists payload keys that must be non-blank per kind.
var requiredFields = map[Kind][]string{
	KindAppointmentCreated: {FieldDoctor, FieldDate, FieldTime},
	KindRecordUpdated:      {FieldRecordType},
	KindPatientRegistered:  nil,
	KindQueueStatusChanged: {FieldStatus},
}

// RequiredFields returns the payload keys a kind cannot do without.
func RequiredFields(kind Kind) []string {
	return append([]string(nil), requiredFields[kind]...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the event invariants. The event is expected to be normalized.
func Validate(e NotificationEvent) error {
	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.InvalidEvent("%s", describe(verrs[0]))
		}
		return apperr.Wrap(apperr.CodeInvalidEvent, err, "event failed validation")
	}
	if !e.Kind.Valid() {
		return apperr.InvalidEvent("unknown kind %q", e.Kind)
	}
	for _, field := range requiredFields[e.Kind] {
		if e.Payload.Get(field) == "" {
			return apperr.InvalidEvent("payload.%s is required for %s", field, e.Kind)
		}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s is not a valid e-mail address", field)
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

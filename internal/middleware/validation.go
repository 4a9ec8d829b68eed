package middleware

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-requests/internal/model"
)

// CustomValidators are the binding tags specific to clinic requests.
var CustomValidators = map[string]validator.Func{
	"payment_type": func(fl validator.FieldLevel) bool {
		return model.PaymentType(fl.Field().String()).Valid()
	},
	"request_status": func(fl validator.FieldLevel) bool {
		return model.RequestStatus(fl.Field().String()).Valid()
	},
}

var registerOnce sync.Once

// RegisterValidators installs the custom tags on gin's binding validator and
// reports fields by their json name.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		for tag, fn := range CustomValidators {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
}

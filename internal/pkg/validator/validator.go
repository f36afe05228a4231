package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	paymentMethods = []string{"credit_card", "bank_transfer", "mobile_payment", "virtual_account"}
	couponTypes    = []string{"FIXED", "PERCENTAGE"}
)

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("payment_method", oneOf(paymentMethods))
	validate.RegisterValidation("coupon_type", oneOf(couponTypes))

	// Coupon prefixes end up inside codes matched case-sensitively.
	validate.RegisterValidation("code_prefix", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				return false
			}
		}
		return true
	})
}

func oneOf(values []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		for _, allowed := range values {
			if v == allowed {
				return true
			}
		}
		return false
	}
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return map[string]string{"_": err.Error()}
	}

	errs := make(map[string]string)
	for _, fe := range validationErrors {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			errs[field] = "This field is required"
		case "min":
			errs[field] = "Value is too short (min: " + fe.Param() + ")"
		case "max":
			errs[field] = "Value is too long (max: " + fe.Param() + ")"
		case "gt":
			errs[field] = "Value must be greater than " + fe.Param()
		case "gte":
			errs[field] = "Value must be at least " + fe.Param()
		case "lte":
			errs[field] = "Value must be at most " + fe.Param()
		case "payment_method":
			errs[field] = "Invalid payment method. Must be: " + strings.Join(paymentMethods, ", ")
		case "coupon_type":
			errs[field] = "Invalid coupon type. Must be: FIXED or PERCENTAGE"
		case "code_prefix":
			errs[field] = "Prefix may only contain A-Z, 0-9, '-' and '_'"
		default:
			errs[field] = "Invalid value"
		}
	}

	return errs
}

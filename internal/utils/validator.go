// internal/utils/validator.go
package utils

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("order_status", validateOrderStatus)
	validate.RegisterValidation("seller_status", validateSellerStatus)
	validate.RegisterValidation("message_type", validateMessageType)
	validate.RegisterValidation("slug", validateSlug)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

func validateOrderStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "pending", "paid", "shipped", "delivered", "cancelled":
		return true
	}
	return false
}

// Sellers only move orders along fulfilment; "paid" comes from the payment flow.
func validateSellerStatus(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "shipped", "delivered", "cancelled":
		return true
	}
	return false
}

func validateMessageType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "text", "image", "file":
		return true
	}
	return false
}

func validateSlug(fl validator.FieldLevel) bool {
	return slugPattern.MatchString(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "email":
		return "Invalid email format"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "gt":
		return e.Field() + " must be greater than " + e.Param()
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	case "order_status":
		return "Status must be one of pending, paid, shipped, delivered, cancelled"
	case "seller_status":
		return "Status must be one of shipped, delivered, cancelled"
	case "message_type":
		return "Message type must be text, image or file"
	case "slug":
		return e.Field() + " must contain only lowercase letters, digits and dashes"
	default:
		return e.Field() + " is invalid"
	}
}

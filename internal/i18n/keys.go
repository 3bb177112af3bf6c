// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess       = "success"
	KeyError         = "error"
	KeyInternalError = "internal_error"
	KeyRateLimited   = "rate_limited"

	// Authentication
	KeyAuthRequired           = "auth.required"
	KeyAuthInvalidToken       = "auth.invalid_token"
	KeyAuthInvalidCredentials = "auth.invalid_credentials"
	KeyAuthUserExists         = "auth.user_exists"
	KeyAuthUserInactive       = "auth.user_inactive"
	KeyAccessDenied           = "auth.access_denied"
	KeySellerRequired         = "auth.seller_required"

	// Validation
	KeyValidationInvalid   = "validation.invalid"
	KeyValidationInvalidID = "validation.invalid_id"

	// Payments
	KeyPaymentFailed = "payment.failed"

	// Uploads
	KeyUploadFailed = "upload.failed"
)

// Resource names for NotFoundResponse, resolved as "<resource>.not_found".
const (
	ResourceUser         = "user"
	ResourceStore        = "store"
	ResourceProduct      = "product"
	ResourceOrder        = "order"
	ResourceConversation = "conversation"
)

package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindForbidden
	KindNotFound
	KindConflict
	KindLocked
	KindLimitExceeded
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindLocked:
		return "locked"
	case KindLimitExceeded:
		return "limit_exceeded"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is an application error carrying a kind and a client-safe message.
// Sentinels below are *Error values so errors.Is compares by identity.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...))
}

// Conflict returns a conflict error with a formatted message.
func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, fmt.Sprintf(format, args...))
}

// Forbidden returns a forbidden error with a formatted message.
func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, fmt.Sprintf(format, args...))
}

// NotFound returns a not-found error with a formatted message.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Authentication errors
var (
	ErrUserNotFound              = newError(KindNotFound, "user not found")
	ErrUserAlreadyExists         = newError(KindConflict, "user already exists")
	ErrInvalidCredentials        = newError(KindAuthentication, "invalid credentials")
	ErrAccountLocked             = newError(KindLocked, "account locked due to too many failed login attempts")
	ErrAccountInactive           = newError(KindForbidden, "account is deactivated")
	ErrPasswordChangeRequired    = newError(KindForbidden, "password change required")
	ErrSamePassword              = newError(KindValidation, "new password must differ from the current password")
	ErrSessionNotFound           = newError(KindAuthentication, "session not found")
	ErrSessionExpired            = newError(KindAuthentication, "session expired")
	ErrSessionRevoked            = newError(KindAuthentication, "session revoked")
	ErrSessionFingerprint        = newError(KindAuthentication, "session fingerprint mismatch")
	ErrInvalidToken              = newError(KindAuthentication, "invalid token")
	ErrVerificationTokenExpired  = newError(KindValidation, "verification token expired")
	ErrVerificationTokenConsumed = newError(KindValidation, "verification token already used")
	ErrVerificationTokenInvalid  = newError(KindValidation, "invalid verification token")
)

// Validation errors
var (
	ErrInvalidEmail  = newError(KindValidation, "invalid email address")
	ErrWeakPassword  = newError(KindValidation, "password does not meet requirements")
	ErrInvalidRole   = newError(KindValidation, "invalid role")
	ErrInvalidStatus = newError(KindValidation, "invalid status")
)

// Tenant and authorization errors
var (
	ErrTenantNotFound      = newError(KindNotFound, "tenant not found")
	ErrTenantDomainTaken   = newError(KindConflict, "tenant domain already registered")
	ErrTenantSuspended     = newError(KindForbidden, "tenant is suspended")
	ErrTrialExpired        = newError(KindForbidden, "tenant trial has expired")
	ErrTenantRequired      = newError(KindForbidden, "tenant context required")
	ErrTenantMismatch      = newError(KindForbidden, "token does not belong to this tenant")
	ErrCrossTenant         = newError(KindForbidden, "access to another tenant is not allowed")
	ErrInsufficientRole    = newError(KindForbidden, "insufficient permissions")
	ErrRoleAssignment      = newError(KindForbidden, "not allowed to assign this role")
	ErrCannotModifySelf    = newError(KindForbidden, "operation not allowed on your own account")
	ErrSuperAdminProtected = newError(KindForbidden, "super admin accounts cannot be modified here")
)

// Subscription errors
var (
	ErrPlanNotFound          = newError(KindNotFound, "subscription plan not found")
	ErrSubscriptionNotFound  = newError(KindNotFound, "subscription not found")
	ErrSubscriptionInactive  = newError(KindForbidden, "subscription is not active")
	ErrSubscriptionLimit     = newError(KindLimitExceeded, "subscription user limit reached")
	ErrAdminLimit            = newError(KindLimitExceeded, "subscription admin limit reached")
	ErrPlanDowngradeTooSmall = newError(KindConflict, "plan limits are below current usage")
	ErrPlanLookupTimeout     = newError(KindUnavailable, "subscription plan lookup timed out")
)

// MFA errors
var (
	ErrMFARequired         = newError(KindAuthentication, "multi-factor authentication required")
	ErrMFANotEnabled       = newError(KindValidation, "MFA is not enabled for this account")
	ErrMFANotSetup         = newError(KindValidation, "MFA setup not initiated")
	ErrMFAAlreadyEnabled   = newError(KindConflict, "MFA is already enabled")
	ErrInvalidMFACode      = newError(KindAuthentication, "invalid MFA code")
	ErrInvalidRecoveryCode = newError(KindAuthentication, "invalid or already used recovery code")
	ErrMFAChallengeExpired = newError(KindAuthentication, "MFA challenge expired")
	ErrMFALocked           = newError(KindLocked, "MFA temporarily locked due to too many failed attempts")
)

// Resource errors
var (
	ErrProfileNotFound       = newError(KindNotFound, "profile not found")
	ErrDocumentNotFound      = newError(KindNotFound, "document not found")
	ErrDocumentNotUploaded   = newError(KindConflict, "document upload has not completed")
	ErrUnsupportedFileType   = newError(KindValidation, "unsupported file type")
	ErrFileTooLarge          = newError(KindValidation, "file exceeds the maximum allowed size")
	ErrStorageUnavailable    = newError(KindUnavailable, "document storage is not configured")
	ErrNotificationNotFound  = newError(KindNotFound, "notification not found")
	ErrAPIKeyNotFound        = newError(KindNotFound, "API key not found")
	ErrAPIKeyInvalid         = newError(KindAuthentication, "invalid API key")
	ErrImpersonationNotFound = newError(KindNotFound, "impersonation not found")
	ErrImpersonationNotAllow = newError(KindForbidden, "impersonation of this user is not allowed")
	ErrImpersonationNested   = newError(KindForbidden, "cannot start an impersonation while impersonating")
)

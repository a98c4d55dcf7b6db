package service

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrRoleNotFound   = errors.New("role not found")
	ErrInviteNotFound = errors.New("invite not found")
	ErrSignupNotFound = errors.New("signup not found")
	ErrMailNotFound   = errors.New("mail alias not found")

	ErrMFAMethodNotFound = errors.New("second factor not found")

	ErrAccessDenied        = errors.New("access denied")
	ErrNoSelfserviceAccess = errors.New("user is not allowed to use self-service")
	ErrInvalidCredentials  = errors.New("invalid login name or password")
	ErrSessionInvalid      = errors.New("session invalid or expired")
	ErrInvalidMFACode      = errors.New("invalid second factor code")

	ErrLoginnameTaken = errors.New("login name already taken")
	ErrGroupExists    = errors.New("group already exists")
	ErrRoleExists     = errors.New("role already exists")
	ErrMailExists     = errors.New("mail alias already exists")

	ErrInviteTooLong      = errors.New("invite validity exceeds the configured maximum")
	ErrInviteNotPermitted = errors.New("not permitted to create this invite")
	ErrInviteNoCapability = errors.New("invite must allow signup or grant at least one role")
	ErrUnknownRole        = errors.New("unknown role")

	ErrRecoveryCodesRequired = errors.New("generate recovery codes before adding an authenticator")

	ErrSignupDisabled = errors.New("self signup is disabled")
	ErrMailNotSent    = errors.New("mail could not be sent")
)

// errRejected aborts a redemption transaction after a business rejection
var errRejected = errors.New("rejected")

// Result is the outcome of an operation that can be refused for business
// reasons. Infrastructure failures are returned as error instead.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func success(msg string) Result { return Result{Success: true, Message: msg} }

func fail(msg string) Result { return Result{Success: false, Message: msg} }

package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Business Errors (20000+)
var (
	ErrUserNotFound        = Errno{Code: 20101, Message: "User not found"}
	ErrTransactionNotFound = Errno{Code: 20201, Message: "Transaction not found"}
	ErrInvalidAddress      = Errno{Code: 20202, Message: "Invalid ledger address"}
	ErrWrongAsset          = Errno{Code: 20301, Message: "Payment received in wrong asset"}
	ErrAmountTooLow        = Errno{Code: 20302, Message: "Payment amount is less than the expected price"}
	ErrMultipleAuthors     = Errno{Code: 20303, Message: "Payment was not sent from a single-address wallet"}
	ErrWrongAuthor         = Errno{Code: 20304, Message: "Payment was not sent from the expected address"}
	ErrProviderStatus      = Errno{Code: 20401, Message: "Verification provider returned an unexpected status"}
	ErrReferralCorrupt     = Errno{Code: 20501, Message: "Referral candidate data is inconsistent"}
)

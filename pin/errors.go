package pin

import (
	"errors"
	"strconv"
)

var (
	// ErrInvalidLength is returned by Generate for lengths outside the supported set.
	ErrInvalidLength = errors.New("pin: invalid length")
	// ErrInvalidKey is returned when the subject or purpose is empty.
	ErrInvalidKey = errors.New("pin: subject and purpose are required")
	// ErrNotFound means no live record exists for the key.
	ErrNotFound = errors.New("pin: record not found")
	// ErrExpired means the record outlived its TTL; the record has been removed.
	ErrExpired = errors.New("pin: expired")
	// ErrAttemptsExceeded means the attempt budget was already spent; the record has been removed.
	ErrAttemptsExceeded = errors.New("pin: attempts exceeded")
	// ErrInvalidCode means the submitted code did not match.
	ErrInvalidCode = errors.New("pin: invalid code")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("pin: backend unavailable")
)

// InvalidCodeError reports a mismatched code together with the remaining attempt budget.
type InvalidCodeError struct {
	AttemptsLeft int
}

func (e *InvalidCodeError) Error() string {
	return ErrInvalidCode.Error() + " (" + strconv.Itoa(e.AttemptsLeft) + " attempts left)"
}

// Is makes errors.Is(err, ErrInvalidCode) hold for InvalidCodeError values.
func (e *InvalidCodeError) Is(target error) bool {
	return target == ErrInvalidCode
}

// AttemptsLeft extracts the remaining attempts from an InvalidCodeError anywhere in err's chain.
func AttemptsLeft(err error) (int, bool) {
	var ice *InvalidCodeError
	if errors.As(err, &ice) {
		return ice.AttemptsLeft, true
	}
	return 0, false
}

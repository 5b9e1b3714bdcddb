package common

import (
	"errors"
	"fmt"

	"github.com/mhsanaei/xray-daemon/logger"
)

func NewErrorf(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	return errors.New(msg)
}

func NewError(a ...any) error {
	msg := fmt.Sprint(a...)
	return errors.New(msg)
}

// Combine joins the non-nil errors; it returns nil when all are nil.
func Combine(errs ...error) error {
	return errors.Join(errs...)
}

// Recover must be deferred directly. It logs a recovered panic under msg.
func Recover(msg string) any {
	panicErr := recover()
	if panicErr != nil {
		if msg != "" {
			logger.Error(msg, "panic:", panicErr)
		}
	}
	return panicErr
}

package auth

import (
	"context"
	"time"
)

// OTPDelivery carries a code to the out-of-band channel.
type OTPDelivery struct {
	UserID    string
	Email     string
	Phone     string
	Reference string
	Code      int
	ExpiresAt time.Time
	Resend    bool
}

// Notifier delivers one-time passcodes to users.
type Notifier interface {
	DeliverOTP(ctx context.Context, d OTPDelivery) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, d OTPDelivery) error

func (f NotifierFunc) DeliverOTP(ctx context.Context, d OTPDelivery) error { return f(ctx, d) }

var discardNotifier = NotifierFunc(func(context.Context, OTPDelivery) error { return nil })

package coupon

import "errors"

var (
	ErrCouponNotFound     = errors.New("coupon not found")
	ErrCouponExpired      = errors.New("coupon expired")
	ErrCouponNotStarted   = errors.New("coupon is not valid yet")
	ErrCouponForbidden    = errors.New("coupon is assigned to another user")
	ErrMinimumNotMet      = errors.New("purchase amount below coupon minimum")
	ErrAlreadyAssigned    = errors.New("coupon already assigned")
	ErrDuplicateCode      = errors.New("coupon code already exists")
	ErrInvalidCouponState = errors.New("invalid coupon status transition")

	ErrForbidden          = errors.New("admin only")
	ErrInvalidCoupon      = errors.New("invalid coupon definition")
	ErrInvalidAmount      = errors.New("purchase amount must be greater than 0")
	ErrInvalidQuantity    = errors.New("quantity must be between 1 and 1000")
	ErrCodeSpaceExhausted = errors.New("could not generate a unique coupon code")
)

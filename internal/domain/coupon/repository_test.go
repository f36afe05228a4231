package coupon

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestMapDBError(t *testing.T) {
	other := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique violation", &pq.Error{Code: "23505"}, ErrDuplicateCode},
		{"foreign key", &pq.Error{Code: "23503"}, ErrInvalidCoupon},
		{"check constraint", &pq.Error{Code: "23514"}, ErrInvalidCoupon},
		{"other pq error", &pq.Error{Code: "40001"}, nil},
		{"not a pq error", other, other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapDBError(tt.err)
			if tt.want == nil {
				if got != tt.err {
					t.Fatalf("expected error to pass through, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

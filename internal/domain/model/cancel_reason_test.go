package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCancelReason(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		detail  string
		want    CancelReasonCode
		wantErr bool
	}{
		{name: "empty defaults to user requested", code: "", want: CancelReasonUserRequested},
		{name: "lower case is normalized", code: " admin_cancelled ", want: CancelReasonAdminCancelled},
		{name: "other with detail", code: "OTHER", detail: "wrong size", want: CancelReasonOther},
		{name: "other without detail", code: "OTHER", wantErr: true},
		{name: "unknown code", code: "BORED", wantErr: true},
		{name: "detail too long", code: "OTHER", detail: strings.Repeat("x", 1001), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCancelReason(tt.code, tt.detail)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCancelReason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Code)
		})
	}
}

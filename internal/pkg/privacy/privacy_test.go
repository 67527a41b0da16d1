package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want string
	}{
		{name: "empty", addr: "", want: ""},
		{name: "shorter than suffix", addr: "123", want: "***"},
		{name: "exactly suffix length", addr: "1234", want: "****"},
		{name: "phone number", addr: "5551234567", want: "******4567"},
		{name: "with country code", addr: "+15551234567", want: "********4567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskAddress(tt.addr))
		})
	}
}

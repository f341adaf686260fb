package payment

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		query url.Values
		want  Notification
	}{
		{
			name: "numeric data id",
			body: `{"action":"payment.created","api_version":"v1","data":{"id":123456},"type":"payment","live_mode":false}`,
			want: Notification{Type: "payment", Action: "payment.created", DataID: "123456"},
		},
		{
			name: "string data id",
			body: `{"type":"payment","data":{"id":"987"}}`,
			want: Notification{Type: "payment", DataID: "987"},
		},
		{
			name: "non payment topic",
			body: `{"topic":"merchant_order","resource":"https://api/merchant_orders/1"}`,
			want: Notification{Type: "merchant_order"},
		},
		{
			name:  "query parameters only",
			query: url.Values{"type": {"payment"}, "data.id": {"555"}},
			want:  Notification{Type: "payment", DataID: "555"},
		},
		{
			name:  "ipn style query",
			query: url.Values{"topic": {"payment"}, "id": {"777"}},
			want:  Notification{Type: "payment", DataID: "777"},
		},
		{
			name:  "body wins over query",
			body:  `{"type":"payment","data":{"id":1}}`,
			query: url.Values{"data.id": {"2"}},
			want:  Notification{Type: "payment", DataID: "1"},
		},
		{
			name: "data without id",
			body: `{"type":"payment","data":{}}`,
			want: Notification{Type: "payment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeNotification([]byte(tt.body), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeNotification_Malformed(t *testing.T) {
	_, err := DecodeNotification([]byte(`{"type":`), nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}

package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusCreated, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusCreated, StatusPaid}:         true,
		{StatusCreated, StatusCancelled}:    true,
		{StatusPaid, StatusProcessing}:      true,
		{StatusPaid, StatusCancelled}:       true,
		{StatusProcessing, StatusShipped}:   true,
		{StatusProcessing, StatusCancelled}: true,
		{StatusShipped, StatusDelivered}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusShipped.IsTerminal())
	assert.False(t, StatusShipped.Cancellable())
	assert.True(t, StatusProcessing.Cancellable())
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" shipped ")
	require.True(t, ok)
	assert.Equal(t, StatusShipped, st)

	_, ok = ParseStatus("LOST")
	assert.False(t, ok)
}

func TestTransitionTo_Timestamps(t *testing.T) {
	o := &Order{Status: StatusProcessing}

	changed, err := o.TransitionTo(StatusShipped, testNow)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, o.ShippedAt)
	assert.Equal(t, testNow, *o.ShippedAt)
	assert.Nil(t, o.DeliveredAt)

	later := testNow.Add(48 * time.Hour)
	changed, err = o.TransitionTo(StatusDelivered, later)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, o.DeliveredAt)
	assert.Equal(t, later, *o.DeliveredAt)
	assert.Equal(t, testNow, *o.ShippedAt)
}

func TestTransitionTo_SameStatusIsNoop(t *testing.T) {
	o := &Order{Status: StatusPaid}
	changed, err := o.TransitionTo(StatusPaid, testNow)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestTransitionTo_Invalid(t *testing.T) {
	o := &Order{Status: StatusCreated}
	_, err := o.TransitionTo(StatusShipped, testNow)

	require.ErrorIs(t, err, ErrInvalidTransition)
	var itErr *InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, StatusCreated, itErr.From)
	assert.Equal(t, StatusShipped, itErr.To)
	assert.Equal(t, StatusCreated, o.Status)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		from    Status
		wantErr bool
	}{
		{from: StatusCreated},
		{from: StatusPaid},
		{from: StatusProcessing},
		{from: StatusShipped, wantErr: true},
		{from: StatusDelivered, wantErr: true},
		{from: StatusCancelled, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			o := &Order{Status: tt.from}
			err := o.Cancel("changed my mind", testNow)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, o.Status)
				assert.Empty(t, o.CancellationReason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, o.Status)
			assert.Equal(t, "changed my mind", o.CancellationReason)
		})
	}
}

func TestTotal(t *testing.T) {
	assert.True(t, d("25").Equal(Total(d("25"), d("0"))))
	assert.True(t, d("22.5").Equal(Total(d("25"), d("2.5"))))
	assert.True(t, d("0").Equal(Total(d("10"), d("15"))))
	assert.True(t, d("3.33").Equal(Total(d("3.333"), d("0"))))
}

package statsbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/statsbus"
)

func TestBus_EmitDeliversToAllSubscribers(t *testing.T) {
	b := statsbus.New(slogutil.NewDiscardLogger())

	var got1, got2 statsbus.Record
	b.SubscribeStats(func(r statsbus.Record) { got1 = r })
	b.SubscribeStats(func(r statsbus.Record) { got2 = r })

	b.Emit(statsbus.Record{Method: statsbus.MethodDiscover, Processed: true})

	assert.Equal(t, statsbus.MethodDiscover, got1.Method)
	assert.Equal(t, statsbus.MethodDiscover, got2.Method)
	assert.True(t, got1.Processed)
}

func TestBus_ReinitialiseRunsAllAndReportsFailure(t *testing.T) {
	b := statsbus.New(slogutil.NewDiscardLogger())

	var firstRan, secondRan bool
	b.SubscribeReinit(func(context.Context) error {
		firstRan = true
		return errors.New("flush failed")
	})
	b.SubscribeReinit(func(context.Context) error {
		secondRan = true
		return nil
	})

	err := b.Reinitialise(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, statsbus.ErrReinitFailed)
	assert.True(t, firstRan)
	assert.True(t, secondRan, "a failing callback must not stop the remaining ones from running")
}

func TestBus_ReinitialiseNoFailures(t *testing.T) {
	b := statsbus.New(slogutil.NewDiscardLogger())
	b.SubscribeReinit(func(context.Context) error { return nil })
	assert.NoError(t, b.Reinitialise(context.Background()))
}

func TestBus_Tick(t *testing.T) {
	b := statsbus.New(slogutil.NewDiscardLogger())
	count := 0
	b.SubscribeTick(func() { count++ })
	b.Tick()
	b.Tick()
	assert.Equal(t, 2, count)
}

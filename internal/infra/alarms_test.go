package infra

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nomor/memclear/internal/domain"
	"github.com/nomor/memclear/internal/looper"
)

var epoch = time.Date(2026, 5, 4, 1, 0, 0, 0, time.UTC)

type firedAlarm struct {
	id domain.AlarmID
	at time.Time
}

func newTestAlarms() (*TimerAlarms, *looper.Manual, *[]firedAlarm) {
	loop := looper.NewManual(epoch)
	alarms := NewTimerAlarms(loop, zap.NewNop())
	fired := &[]firedAlarm{}
	alarms.SetHandler(func(id domain.AlarmID) {
		*fired = append(*fired, firedAlarm{id: id, at: loop.Now()})
	})
	return alarms, loop, fired
}

func TestTimerAlarms_FiresAtInstant(t *testing.T) {
	alarms, loop, fired := newTestAlarms()

	require.NoError(t, alarms.SetExact(domain.AlarmWarning, epoch.Add(55*time.Minute)))
	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(time.Hour)))

	next, ok := alarms.Next(domain.AlarmExecute)
	require.True(t, ok)
	assert.True(t, epoch.Add(time.Hour).Equal(next))

	loop.Advance(54 * time.Minute)
	assert.Empty(t, *fired)

	loop.Advance(10 * time.Minute)
	require.Len(t, *fired, 2)
	assert.Equal(t, domain.AlarmWarning, (*fired)[0].id)
	assert.True(t, epoch.Add(55*time.Minute).Equal((*fired)[0].at))
	assert.Equal(t, domain.AlarmExecute, (*fired)[1].id)

	_, ok = alarms.Next(domain.AlarmExecute)
	assert.False(t, ok, "fired alarms are disarmed")
}

func TestTimerAlarms_SetExactReplaces(t *testing.T) {
	alarms, loop, fired := newTestAlarms()

	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(time.Hour)))
	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(2*time.Hour)))

	loop.Advance(90 * time.Minute)
	assert.Empty(t, *fired)

	loop.Advance(time.Hour)
	require.Len(t, *fired, 1)
	assert.True(t, epoch.Add(2*time.Hour).Equal((*fired)[0].at))
}

func TestTimerAlarms_Cancel(t *testing.T) {
	alarms, loop, fired := newTestAlarms()

	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(time.Minute)))
	require.NoError(t, alarms.Cancel(domain.AlarmExecute))
	require.NoError(t, alarms.Cancel(domain.AlarmWarning), "unknown ids are ignored")

	loop.Advance(time.Hour)
	assert.Empty(t, *fired)
	assert.Zero(t, loop.Pending())
}

func TestTimerAlarms_PastInstantFiresImmediately(t *testing.T) {
	alarms, loop, fired := newTestAlarms()

	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(-time.Minute)))
	loop.RunPending()
	require.Len(t, *fired, 1)
}

func TestTimerAlarms_HandlerMayRearm(t *testing.T) {
	loop := looper.NewManual(epoch)
	alarms := NewTimerAlarms(loop, zap.NewNop())
	count := 0
	alarms.SetHandler(func(id domain.AlarmID) {
		count++
		require.NoError(t, alarms.SetExact(id, loop.Now().Add(24*time.Hour)))
	})

	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch.Add(time.Hour)))
	loop.Advance(48 * time.Hour)

	assert.Equal(t, 2, count)
	next, ok := alarms.Next(domain.AlarmExecute)
	require.True(t, ok)
	assert.True(t, epoch.Add(49*time.Hour).Equal(next))
}

func TestTimerAlarms_NoHandler(t *testing.T) {
	loop := looper.NewManual(epoch)
	alarms := NewTimerAlarms(loop, zap.NewNop())

	require.NoError(t, alarms.SetExact(domain.AlarmExecute, epoch))
	assert.NotPanics(t, loop.RunPending)
}

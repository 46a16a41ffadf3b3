package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(category, unit, date string) ChangeEvent {
	return ChangeEvent{Collection: CollectionReadings, Op: OpInsert, Category: category, Unit: unit, Date: date}
}

func receive(t *testing.T, ch <-chan ChangeEvent) ChangeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return ChangeEvent{}
	}
}

func TestHubFiltersByCollectionAndPredicate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(4, nil)

	all, err := hub.Subscribe(ctx, "", nil)
	require.NoError(t, err)
	kiln, err := hub.Subscribe(ctx, CollectionReadings, ForUnit("cop", "KILN-1"))
	require.NoError(t, err)

	hub.Publish(ChangeEvent{Collection: CollectionParameters, Op: OpUpdate, Category: "COP", Unit: "kiln-1"})
	hub.Publish(reading("COP", "kiln-2", "2024-03-01"))
	hub.Publish(reading("COP", "kiln-1", "2024-03-02"))

	assert.Equal(t, CollectionParameters, receive(t, all).Collection)
	assert.Equal(t, "kiln-2", receive(t, all).Unit)
	assert.Equal(t, "kiln-1", receive(t, all).Unit)

	got := receive(t, kiln)
	assert.Equal(t, "2024-03-02", got.Date)
	select {
	case ev := <-kiln:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubDropsWhenSubscriberIsSlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(1, nil)

	ch, err := hub.Subscribe(ctx, CollectionReadings, nil)
	require.NoError(t, err)

	hub.Publish(reading("COP", "k", "2024-03-01"))
	hub.Publish(reading("COP", "k", "2024-03-02"))

	assert.Equal(t, "2024-03-01", receive(t, ch).Date)
	select {
	case ev := <-ch:
		t.Fatalf("expected second event to be dropped, got %+v", ev)
	default:
	}
}

func TestHubClosesChannelOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(1, nil)
	ch, err := hub.Subscribe(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(1, nil)
	ch, err := hub.Subscribe(context.Background(), "", nil)
	require.NoError(t, err)

	hub.Close()
	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, err = hub.Subscribe(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrHubClosed)
}

func TestChangeEventMonthQuery(t *testing.T) {
	q, ok := reading("COP", "kiln-1", "2024-02-29").MonthQuery()
	require.True(t, ok)
	assert.Equal(t, 2024, q.Year)
	assert.Equal(t, time.February, q.Month)
	assert.Equal(t, "kiln-1", q.Unit)

	_, ok = reading("COP", "", "2024-02-29").MonthQuery()
	assert.False(t, ok)
	_, ok = reading("COP", "kiln-1", "").MonthQuery()
	assert.False(t, ok)
}

func TestChangeEventValidate(t *testing.T) {
	assert.NoError(t, reading("COP", "k", "2024-03-01").Validate())
	assert.Error(t, ChangeEvent{Op: OpInsert}.Validate())
	assert.Error(t, ChangeEvent{Collection: CollectionReadings, Op: "upsert"}.Validate())
	assert.Error(t, reading("COP", "k", "03/01/2024").Validate())
}

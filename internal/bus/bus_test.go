package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smc-engine/smcengine/internal/models"
)

func TestBus_SubscribeReceivesMatchingAlert(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(Filter{Symbol: "AAPL"})
	defer b.Unsubscribe(id)

	b.Publish(context.Background(), models.Alert{ID: "1", Symbol: "AAPL", Type: models.AlertBOSEntry})
	b.Publish(context.Background(), models.Alert{ID: "2", Symbol: "MSFT", Type: models.AlertBOSEntry})

	select {
	case alert := <-ch:
		assert.Equal(t, "1", alert.ID)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the matching alert")
	}

	select {
	case alert := <-ch:
		t.Fatalf("did not expect a second alert, got %v", alert)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(Filter{})
	b.Unsubscribe(id)

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{})

	for i := 0; i < SubscriberBuffer+5; i++ {
		b.Publish(context.Background(), models.Alert{ID: string(rune('a' + i%26)), Symbol: "AAPL"})
	}

	assert.Greater(t, b.DroppedTotal(), int64(0))
	assert.LessOrEqual(t, len(ch), SubscriberBuffer)
}

func TestBus_RecentCapsAtRingCapacity(t *testing.T) {
	b := New()
	for i := 0; i < RingCapacity+10; i++ {
		b.Publish(context.Background(), models.Alert{ID: string(rune(i)), Symbol: "AAPL"})
	}

	recent := b.Recent(0)
	require.Len(t, recent, RingCapacity)
}

func TestBus_RecentRespectsLimit(t *testing.T) {
	b := New()
	for i := 0; i < 10; i++ {
		b.Publish(context.Background(), models.Alert{ID: string(rune('a' + i)), Symbol: "AAPL"})
	}

	recent := b.Recent(3)
	require.Len(t, recent, 3)
}

func TestBus_MarkReadReflectsInRecent(t *testing.T) {
	b := New()
	b.Publish(context.Background(), models.Alert{ID: "alert-1", Symbol: "AAPL"})
	b.MarkRead("alert-1")

	recent := b.Recent(1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Read)
}

func TestBus_CloseClosesExistingSubscribers(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{})

	b.Close()

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_CloseRejectsNewSubscribers(t *testing.T) {
	b := New()
	b.Close()

	_, ch := b.Subscribe(Filter{})

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := New()
	_, ch := b.Subscribe(Filter{})

	b.Close()
	assert.NotPanics(t, func() { b.Close() })

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	b.Close()

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), models.Alert{ID: "1", Symbol: "AAPL"})
	})
}

func TestBus_FilterByType(t *testing.T) {
	b := New()
	id, ch := b.Subscribe(Filter{Types: []models.AlertType{models.AlertFVGMitigated}})
	defer b.Unsubscribe(id)

	b.Publish(context.Background(), models.Alert{ID: "1", Type: models.AlertBOSEntry})
	b.Publish(context.Background(), models.Alert{ID: "2", Type: models.AlertFVGMitigated})

	select {
	case alert := <-ch:
		assert.Equal(t, "2", alert.ID)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the FVG_MITIGATED alert")
	}
}

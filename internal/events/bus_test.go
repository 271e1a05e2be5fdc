package events

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gerd-center-server/internal/domain"
)

func newTestBus() *Bus {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewBus(logger)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := newTestBus()
	ch1, cancel1 := bus.Subscribe()
	defer cancel1()
	ch2, cancel2 := bus.Subscribe()
	defer cancel2()

	change := domain.Change{PatientID: 7, Entity: domain.EntityRecall}
	bus.Publish(change)

	for _, ch := range []<-chan domain.Change{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, change, got)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change")
		}
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.Publish(domain.Change{PatientID: 1, Entity: domain.EntityPatient})
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	bus := newTestBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Fill the buffer and keep publishing; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(domain.Change{PatientID: int64(i), Entity: domain.EntityPathology})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	// The buffered prefix is still delivered in order.
	first := <-ch
	require.Equal(t, int64(0), first.PatientID)
}

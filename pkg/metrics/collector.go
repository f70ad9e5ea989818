package metrics

import (
	"github.com/hpcgrid/meridian/pkg/events"
)

// Collector translates bootstrap lifecycle events into metric updates so the
// protocol code does not have to touch every gauge itself.
type Collector struct {
	broker *events.Broker
	sub    events.Subscriber
	stopCh chan struct{}
}

// NewCollector creates a collector subscribed to the broker.
func NewCollector(broker *events.Broker) *Collector {
	return &Collector{
		broker: broker,
		sub:    broker.Subscribe(),
		stopCh: make(chan struct{}),
	}
}

// Start begins consuming events. Call Stop to release the subscription.
func (c *Collector) Start() {
	go c.run()
}

// Stop unsubscribes from the broker and stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
	c.broker.Unsubscribe(c.sub)
}

func (c *Collector) run() {
	for {
		select {
		case event, ok := <-c.sub:
			if !ok {
				return
			}
			c.apply(event)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) apply(event *events.Event) {
	switch event.Type {
	case events.EventLocalityRegistered:
		LocalitiesConnected.Inc()
	case events.EventClusterConnected:
		ClusterConnected.Set(1)
	case events.EventBootstrapFailed:
		ClusterConnected.Set(0)
	}
}

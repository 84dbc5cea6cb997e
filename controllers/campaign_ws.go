package controller

import (
	"sync"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"sendloop/worker"
)

// ProgressHub pushes engine events to websocket subscribers watching a
// campaign. It implements worker.Notifier: Emit never blocks dispatch,
// slow subscribers just drop events when their buffer fills.
type ProgressHub struct {
	mu          sync.Mutex
	subscribers map[uint]map[chan worker.Event]struct{}
	log         *logrus.Entry
}

func NewProgressHub(log *logrus.Logger) *ProgressHub {
	if log == nil {
		log = logrus.New()
	}
	return &ProgressHub{
		subscribers: make(map[uint]map[chan worker.Event]struct{}),
		log:         log.WithField("component", "progress_hub"),
	}
}

func (h *ProgressHub) Emit(event worker.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[event.CampaignID] {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

func (h *ProgressHub) subscribe(campaignID uint) chan worker.Event {
	ch := make(chan worker.Event, 64)
	h.mu.Lock()
	if h.subscribers[campaignID] == nil {
		h.subscribers[campaignID] = make(map[chan worker.Event]struct{})
	}
	h.subscribers[campaignID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *ProgressHub) unsubscribe(campaignID uint, ch chan worker.Event) {
	h.mu.Lock()
	if subs := h.subscribers[campaignID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.subscribers, campaignID)
		}
	}
	h.mu.Unlock()
}

// HandleCampaignProgressWS streams campaign events to the client until
// it disconnects. Route: /ws/campaigns/:id/progress.
func (h *ProgressHub) HandleCampaignProgressWS(c *websocket.Conn) {
	defer c.Close()

	campaignID, ok := c.Locals("campaignID").(uint)
	if !ok {
		return
	}

	events := h.subscribe(campaignID)
	defer h.unsubscribe(campaignID, events)

	// Reader goroutine: its only job is to notice the disconnect.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case event := <-events:
			if err := c.WriteJSON(event); err != nil {
				h.log.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}

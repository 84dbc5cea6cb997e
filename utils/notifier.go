package utils

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"sendloop/models"
	"sendloop/worker"
)

// WebhookNotifier delivers engine events to the owning user's webhook
// URL. Delivery is fire-and-forget on a separate goroutine so a slow
// endpoint never stalls a dispatch loop; failures are logged and
// dropped.
type WebhookNotifier struct {
	db      *gorm.DB
	client  *fasthttp.Client
	timeout time.Duration
	log     *logrus.Entry
}

func NewWebhookNotifier(db *gorm.DB, log *logrus.Logger) *WebhookNotifier {
	if log == nil {
		log = logrus.New()
	}
	return &WebhookNotifier{
		db:      db,
		client:  &fasthttp.Client{},
		timeout: 10 * time.Second,
		log:     log.WithField("component", "webhook_notifier"),
	}
}

func (n *WebhookNotifier) Emit(event worker.Event) {
	go n.deliver(event)
}

func (n *WebhookNotifier) deliver(event worker.Event) {
	var user models.User
	if err := n.db.Select("webhook_url").First(&user, event.UserID).Error; err != nil {
		n.log.WithError(err).WithField("user_id", event.UserID).Warn("webhook user lookup failed")
		return
	}
	if user.WebhookURL == "" {
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.log.WithError(err).Error("failed to encode webhook event")
		return
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(user.WebhookURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("X-Sendloop-Event", event.Type)
	req.SetBody(body)

	if err := n.client.DoTimeout(req, resp, n.timeout); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"event_type":  event.Type,
			"campaign_id": event.CampaignID,
		}).Warn("webhook delivery failed")
		return
	}
	if resp.StatusCode() >= 300 {
		n.log.WithFields(logrus.Fields{
			"event_type":  event.Type,
			"campaign_id": event.CampaignID,
			"status":      resp.StatusCode(),
		}).Warn("webhook endpoint returned non-2xx")
	}
}

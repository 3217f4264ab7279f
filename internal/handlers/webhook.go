package handlers

import (
	"context"
	"encoding/xml"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/keyreply/internal/channel"
	"github.com/memohai/keyreply/internal/channel/adapters/twilio"
	"github.com/memohai/keyreply/internal/reply"
	"github.com/memohai/keyreply/internal/settings"
)

// InboundDispatcher runs one inbound message through the reply engine synchronously.
// channel.Manager implements it.
type InboundDispatcher interface {
	Dispatch(ctx context.Context, msg channel.InboundMessage, delivery reply.Delivery) (reply.Result, error)
	Send(ctx context.Context, channelType channel.ChannelType, msg channel.OutboundMessage) error
}

// WebhookHandler answers Twilio messaging webhooks. A broadcast reply is the TwiML response; a
// direct reply is sent through the Twilio REST API and the response is empty.
type WebhookHandler struct {
	dispatcher InboundDispatcher
	logger     *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, dispatcher InboundDispatcher) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
}

// twimlResponse is <Response><Message>...</Message></Response>, or an empty <Response/>.
type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message *string  `xml:"Message,omitempty"`
}

// Receive godoc
// @Summary Twilio inbound message webhook
// @Tags webhook
// @Accept x-www-form-urlencoded
// @Produce xml
// @Param Body formData string false "Message text"
// @Param From formData string true "Sender address"
// @Success 200 {string} string "TwiML"
// @Router /webhook [post]
func (h *WebhookHandler) Receive(c echo.Context) error {
	body := strings.TrimSpace(c.FormValue("Body"))
	from := strings.TrimSpace(c.FormValue("From"))
	msg := channel.InboundMessage{
		Channel:    twilio.Type,
		ID:         strings.TrimSpace(c.FormValue("MessageSid")),
		Text:       body,
		Sender:     channel.Identity{ExternalID: from, DisplayName: strings.TrimSpace(c.FormValue("ProfileName"))},
		ReceivedAt: time.Now().UTC(),
	}
	if to := strings.TrimSpace(c.FormValue("To")); to != "" {
		msg.Conversation = channel.Conversation{ID: from, Type: "direct", Name: to}
	}

	var inline *string
	delivery := reply.DeliveryFunc(func(ctx context.Context, target string, mode settings.DeliveryMode, text string) error {
		if mode == settings.Broadcast {
			inline = &text
			return nil
		}
		return h.dispatcher.Send(ctx, twilio.Type, channel.OutboundMessage{Target: target, Mode: mode, Text: text})
	})

	result, err := h.dispatcher.Dispatch(c.Request().Context(), msg, delivery)
	if err != nil {
		// Twilio gets an empty response; the sender gets no partial reply.
		h.logger.Warn("webhook reply failed", slog.String("from", from), slog.String("outcome", string(result.Outcome)), slog.Any("error", err))
		inline = nil
	}
	return writeTwiML(c, twimlResponse{Message: inline})
}

func writeTwiML(c echo.Context, resp twimlResponse) error {
	out, err := xml.Marshal(resp)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "application/xml", append([]byte(xml.Header), out...))
}

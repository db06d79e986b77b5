package display

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lox/sanitrack/internal/metrics"
)

const publishTimeout = 5 * time.Second

type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher pushes display state to one retained MQTT topic per facility, so
// a kiosk that connects late still receives the current state.
type Publisher struct {
	client tokenPublisher
	prefix string
	close  func()
}

// Connect dials the broker and returns a publisher for topics under prefix.
func Connect(broker, clientID, prefix string) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(15*time.Second) || token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt %s: %v", broker, token.Error())
	}
	return &Publisher{
		client: c,
		prefix: prefix,
		close:  func() { c.Disconnect(250) },
	}, nil
}

// Topic returns the topic a facility's state is published to.
func (p *Publisher) Topic(facilityID int64) string {
	return p.prefix + "/" + strconv.FormatInt(facilityID, 10)
}

func (p *Publisher) Publish(st State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.Topic(st.FacilityID), 1, true, payload)
	if !token.WaitTimeout(publishTimeout) {
		err = fmt.Errorf("publish %s: timed out", p.Topic(st.FacilityID))
	} else if token.Error() != nil {
		err = fmt.Errorf("publish %s: %w", p.Topic(st.FacilityID), token.Error())
	}
	metrics.EventsPublished.WithLabelValues("mqtt", metrics.Status(err)).Inc()
	return err
}

// Clear removes the retained state for a deleted facility.
func (p *Publisher) Clear(facilityID int64) error {
	token := p.client.Publish(p.Topic(facilityID), 1, true, []byte{})
	token.WaitTimeout(publishTimeout)
	return token.Error()
}

func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// Package mqtt mirrors device schedules onto an MQTT broker as retained
// messages, one topic per device serial.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const (
	qos             = 1
	disconnectQuiet = 250 // ms
)

// ScheduleTopic is where a device's current loop is retained.
func ScheduleTopic(serial string) string {
	return fmt.Sprintf("devices/%s/schedule", serial)
}

type Publisher struct {
	client  paho.Client
	timeout time.Duration
}

// Connect dials the broker. The client reconnects on its own after that.
func Connect(brokerURL, clientID string) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.OnConnect = func(paho.Client) {
		log.Info().Str("broker", brokerURL).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Warn().Err(err).Str("broker", brokerURL).Msg("MQTT connection lost")
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", brokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return NewPublisher(client), nil
}

func NewPublisher(client paho.Client) *Publisher {
	return &Publisher{client: client, timeout: 5 * time.Second}
}

type scheduleMessage struct {
	DeviceID int                   `json:"device_id"`
	Window   *model.PlaybackWindow `json:"window,omitempty"`
	Order    model.PlayOrder       `json:"order"`
	Jingles  []model.Jingle        `json:"jingles"`
	AsOf     string                `json:"as_of"`
}

// PublishSchedule retains the loop on the device's topic. Devices that have
// not paired yet have no serial and are skipped.
func (p *Publisher) PublishSchedule(ctx context.Context, device model.Device, loop model.DeviceLoop) error {
	if device.SerialNumber == nil || *device.SerialNumber == "" {
		return nil
	}
	payload, err := json.Marshal(scheduleMessage{
		DeviceID: device.ID,
		Window:   loop.Window,
		Order:    loop.Order,
		Jingles:  loop.Jingles,
		AsOf:     loop.AsOf.Format("2006-01-02"),
	})
	if err != nil {
		return err
	}

	topic := ScheduleTopic(*device.SerialNumber)
	token := p.client.Publish(topic, qos, true, payload)

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	log.Debug().Str("topic", topic).Int("device_id", device.ID).Msg("schedule mirrored")
	return nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(disconnectQuiet)
}

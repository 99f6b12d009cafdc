// Package publish sends rendered frames to a NATS subject.
package publish

import (
	"strconv"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"capdissector/internal/config"
	"capdissector/internal/packet"
)

const (
	HeaderFrameNumber = "Frame-Number"
	HeaderProtocol    = "Frame-Protocol"
	contentType       = "application/yaml"
)

// Publisher publishes each frame's YAML document to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	log     *zap.Logger
}

// NewPublisher connects to the NATS server named in cfg.
func NewPublisher(cfg config.PublishConfig, log *zap.Logger) (*Publisher, error) {
	if cfg.NatsURL == "" {
		return nil, errors.New("publish: no NATS URL configured")
	}
	if cfg.Subject == "" {
		return nil, errors.New("publish: no subject configured")
	}
	nc, err := nats.Connect(cfg.NatsURL, nats.Name("capdissector"))
	if err != nil {
		return nil, errors.Wrapf(err, "connect to NATS at %s", cfg.NatsURL)
	}
	log.Info("connected to NATS", zap.String("url", cfg.NatsURL), zap.String("subject", cfg.Subject))
	return &Publisher{nc: nc, subject: cfg.Subject, log: log}, nil
}

// Publish renders p and publishes it.
func (p *Publisher) Publish(pkt *packet.Packet) error {
	msg, err := NewMessage(p.subject, pkt)
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return errors.Wrapf(err, "publish frame %d", pkt.Number())
	}
	p.log.Debug("frame published", zap.Int("frame", pkt.Number()), zap.Int("bytes", len(msg.Data)))
	return nil
}

// NewMessage builds the NATS message carrying pkt's document.
func NewMessage(subject string, pkt *packet.Packet) (*nats.Msg, error) {
	doc, err := pkt.Document()
	if err != nil {
		return nil, errors.Wrapf(err, "render frame %d", pkt.Number())
	}
	msg := nats.NewMsg(subject)
	msg.Data = doc
	msg.Header.Set(HeaderFrameNumber, strconv.Itoa(pkt.Number()))
	msg.Header.Set("Content-Type", contentType)
	if proto, ok := pkt.Protocol(); ok {
		msg.Header.Set(HeaderProtocol, proto)
	}
	return msg, nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.log.Warn("NATS drain failed", zap.Error(err))
		}
		p.log.Info("NATS connection drained and closed")
	}
}

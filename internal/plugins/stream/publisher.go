package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/keyxmakerx/activitylog/internal/record"
)

// Publisher fans stored records out to subscribers. Publishing happens after
// the record is persisted and is best effort.
type Publisher interface {
	Publish(ctx context.Context, rec *record.Record) error
}

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subj string, data []byte) error
}

// natsPublisher publishes records as JSON on core NATS.
type natsPublisher struct {
	nc     natsConn
	prefix string
}

// NewNATSPublisher creates a publisher on an established connection.
// Subjects have the form <prefix>.<connector>.<action>.
func NewNATSPublisher(nc *nats.Conn, prefix string) (Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	return newNATSPublisher(nc, prefix), nil
}

func newNATSPublisher(nc natsConn, prefix string) *natsPublisher {
	if prefix == "" {
		prefix = "activity"
	}
	return &natsPublisher{nc: nc, prefix: prefix}
}

func (p *natsPublisher) Publish(ctx context.Context, rec *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record %d: %w", rec.ID, err)
	}

	if err := p.nc.Publish(p.subject(rec), data); err != nil {
		return fmt.Errorf("publishing record %d: %w", rec.ID, err)
	}
	return nil
}

// subject builds the publish subject for rec.
func (p *natsPublisher) subject(rec *record.Record) string {
	return p.prefix + "." + subjectToken(rec.Connector) + "." + subjectToken(rec.Action)
}

// subjectToken makes s safe as a single NATS subject token. Dots, spaces and
// wildcards would otherwise split or widen the subject.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// noopPublisher drops everything. Used when NATS is not configured.
type noopPublisher struct{}

// NewNoopPublisher returns a Publisher that does nothing.
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, *record.Record) error {
	return nil
}

// fanout publishes to several publishers in order.
type fanout []Publisher

// Fanout combines publishers. Nil entries are skipped. Every publisher is
// tried; their errors are joined.
func Fanout(pubs ...Publisher) Publisher {
	var out fanout
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return NewNoopPublisher()
	case 1:
		return out[0]
	}
	return out
}

func (f fanout) Publish(ctx context.Context, rec *record.Record) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

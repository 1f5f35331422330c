package queue

import (
    "context"
    "encoding/json"
    "errors"
    "sync"
    "time"

    "github.com/labstack/gommon/log"
    amqp "github.com/rabbitmq/amqp091-go"
)

// ErrBufferFull is returned by Publish when the outbox is full.  The event
// is dropped.
var ErrBufferFull = errors.New("auth event buffer full")

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

const (
    defaultBuffer      = 256
    defaultDialTimeout = 3 * time.Second
    sendTimeout        = 5 * time.Second
)

// Publisher publishes AuthEvents to the auth.events queue.  Publish only
// enqueues; a single goroutine drains the outbox and talks to the broker,
// so a slow or dead broker never holds up an auth request.  The connection
// and channel are opened lazily and reopened after the broker drops them.
type Publisher struct {
    url         string
    dialTimeout time.Duration
    logger      *log.Logger

    outbox    chan AuthEvent
    stop      chan struct{}
    done      chan struct{}
    closeOnce sync.Once

    // owned by the drain goroutine
    conn *amqp.Connection
    ch   *amqp.Channel
}

type PublisherOption func(*Publisher)

// WithBuffer sets the outbox capacity.
func WithBuffer(n int) PublisherOption {
    return func(p *Publisher) {
        if n > 0 {
            p.outbox = make(chan AuthEvent, n)
        }
    }
}

// WithDialTimeout bounds the TCP connect plus AMQP handshake.
func WithDialTimeout(d time.Duration) PublisherOption {
    return func(p *Publisher) {
        if d > 0 {
            p.dialTimeout = d
        }
    }
}

// NewPublisher starts the drain goroutine.  Call Close to stop it.
func NewPublisher(url string, logger *log.Logger, opts ...PublisherOption) *Publisher {
    p := &Publisher{
        url:         url,
        dialTimeout: defaultDialTimeout,
        logger:      logger,
        outbox:      make(chan AuthEvent, defaultBuffer),
        stop:        make(chan struct{}),
        done:        make(chan struct{}),
    }
    for _, opt := range opts {
        opt(p)
    }
    go p.drain()
    return p
}

// Publish enqueues ev without waiting for the broker.  It fails fast with
// ErrBufferFull when the outbox is full.
func (p *Publisher) Publish(ctx context.Context, ev AuthEvent) error {
    select {
    case <-p.stop:
        return ErrPublisherClosed
    default:
    }
    select {
    case p.outbox <- ev:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    default:
        return ErrBufferFull
    }
}

func (p *Publisher) drain() {
    defer close(p.done)
    for {
        select {
        case <-p.stop:
            return
        case ev := <-p.outbox:
            if err := p.send(ev); err != nil {
                p.logger.Warnf("auth events: publish %s: %v", ev.Type, err)
                p.reset()
            }
        }
    }
}

// send publishes ev as a persistent JSON message.
func (p *Publisher) send(ev AuthEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return err
    }
    ch, err := p.channel()
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
    defer cancel()
    return ch.PublishWithContext(ctx,
        "",              // default exchange
        AuthEventsQueue, // routing key = queue name
        false,           // mandatory
        false,           // immediate
        amqp.Publishing{
            ContentType:  "application/json",
            DeliveryMode: amqp.Persistent, // store on disk
            Timestamp:    time.Now().UTC(),
            Type:         ev.Type,
            Body:         body,
        })
}

func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() {
        return p.ch, nil
    }
    if p.conn == nil || p.conn.IsClosed() {
        conn, err := dial(p.url, p.dialTimeout)
        if err != nil {
            return nil, err
        }
        p.conn = conn
    }
    ch, err := p.conn.Channel()
    if err != nil {
        return nil, err
    }
    // Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
    if _, err := ch.QueueDeclare(AuthEventsQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        return nil, err
    }
    p.ch = ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close stops the drain goroutine and releases the broker connection.
// Events still in the outbox are dropped.
func (p *Publisher) Close() error {
    p.closeOnce.Do(func() { close(p.stop) })
    <-p.done
    p.reset()
    return nil
}

// dial connects with a deadline covering both TCP connect and the AMQP
// handshake; amqp.Dial would wait up to 30s on a broker that accepts the
// connection but never answers.
func dial(url string, timeout time.Duration) (*amqp.Connection, error) {
    return amqp.DialConfig(url, amqp.Config{
        Heartbeat: 10 * time.Second,
        Locale:    "en_US",
        Dial:      amqp.DefaultDial(timeout),
    })
}

package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recws-org/recws"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

const (
	writeWait               = 10 * time.Second
	defaultBufferSize       = 1024
	defaultHandshakeTimeout = 5 * time.Second
	defaultReconnectMin     = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
	// How often the read loop polls while recws is reconnecting.
	notConnectedPoll = 50 * time.Millisecond
	requestQueueSize = 256
)

var ErrClientClosed = errors.New("binance stream client is closed")

type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type WebSocketRequestModel struct {
	ReqId  int64    `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

type webSocketEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ReqId  *int64          `json:"id"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

type SubscibeResult = *domain.Subscription[[]byte]

type writeRequest struct {
	msg WebSocketRequestModel
	// optional, receives the write result
	done chan error
}

type StreamClientConfig struct {
	Endpoint string
	// Max messages queued per subscriber before it is dropped as too slow.
	BufferSize int
	// Ping interval. The connection is redialed when no pong arrives within
	// it. Zero disables keep alive.
	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
}

// BinanceStreamClient multiplexes topic subscriptions over one combined
// stream connection. The connection is dialed on the first subscription and
// redialed by recws whenever it drops. A drop closes every subscription with
// domain.ErrFeedClosed, subscribers have to subscribe again.
type BinanceStreamClient struct {
	config StreamClientConfig
	logger *zap.Logger

	dialMu sync.Mutex
	conn   atomic.Pointer[recws.RecConn]

	mu        sync.Mutex
	topics    map[string]map[uint64]*domain.Subscription[[]byte]
	nextSubID uint64
	closed    bool

	// Requests are queued under mu and written by a single goroutine, so they
	// reach the server in the order the topic map changed.
	requests chan writeRequest
	stop     chan struct{}
	writeFn  func(conn *recws.RecConn, v interface{}) error
	reqIDSeq atomic.Int64
}

func NewBinanceStreamClient(config StreamClientConfig, logger *zap.Logger) *BinanceStreamClient {
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	if config.ReconnectMin <= 0 {
		config.ReconnectMin = defaultReconnectMin
	}
	if config.ReconnectMax < config.ReconnectMin {
		config.ReconnectMax = defaultReconnectMax
	}

	return &BinanceStreamClient{
		config:   config,
		logger:   logger.Named("binance-stream-client"),
		topics:   make(map[string]map[uint64]*domain.Subscription[[]byte]),
		requests: make(chan writeRequest, requestQueueSize),
		stop:     make(chan struct{}),
		writeFn:  writeJSON,
	}
}

func (c *BinanceStreamClient) Subscribe(ctx context.Context, topic string) (SubscibeResult, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}

	subscribers, ok := c.topics[topic]
	if !ok {
		subscribers = make(map[uint64]*domain.Subscription[[]byte])
		c.topics[topic] = subscribers
	}
	c.nextSubID++
	id := c.nextSubID
	sub := domain.NewSubscription[[]byte](topic, c.config.BufferSize, func() {
		c.unSubscribe(topic, id)
	})
	subscribers[id] = sub

	if ok {
		c.mu.Unlock()
		return sub, nil
	}

	c.logger.Info("subscribing", zap.String("topic", topic))
	done := make(chan error, 1)
	c.enqueueLocked(writeRequest{
		msg: WebSocketRequestModel{
			Method: "SUBSCRIBE",
			ReqId:  c.nextReqID(),
			Params: []string{topic},
		},
		done: done,
	})
	c.mu.Unlock()

	var err error
	select {
	case err = <-done:
	case <-c.stop:
		err = ErrClientClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%w: send subscribe msg for topic=%s: %v", domain.ErrTransient, topic, err)
	}
	return sub, nil
}

func (c *BinanceStreamClient) unSubscribe(topic string, id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeSubscriberLocked(topic, id, nil)
}

// removeSubscriberLocked closes one subscriber and releases the topic on the
// server once nobody listens to it anymore.
func (c *BinanceStreamClient) removeSubscriberLocked(topic string, id uint64, reason error) {
	subscribers, ok := c.topics[topic]
	if !ok {
		return
	}
	sub, ok := subscribers[id]
	if !ok {
		return
	}

	delete(subscribers, id)
	sub.Close(reason)

	if len(subscribers) > 0 || c.closed {
		return
	}
	delete(c.topics, topic)

	c.logger.Info("unsubscribing", zap.String("topic", topic))
	c.enqueueLocked(writeRequest{msg: WebSocketRequestModel{
		Method: "UNSUBSCRIBE",
		ReqId:  c.nextReqID(),
		Params: []string{topic},
	}})
}

// enqueueLocked hands a request to the writer. It must be called with c.mu
// held and the client open.
func (c *BinanceStreamClient) enqueueLocked(req writeRequest) {
	select {
	case c.requests <- req:
	case <-c.stop:
	}
}

func (c *BinanceStreamClient) write(conn *recws.RecConn) {
	for {
		select {
		case <-c.stop:
			return
		case req := <-c.requests:
			err := c.writeFn(conn, req.msg)
			if req.done != nil {
				req.done <- err
			} else if err != nil && !errors.Is(err, recws.ErrNotConnected) {
				c.logger.Warn("failed to send request", zap.String("method", req.msg.Method),
					zap.Strings("params", req.msg.Params), zap.Error(err))
			}
		}
	}
}

// Close drops the connection and ends every subscription.
func (c *BinanceStreamClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.closeAllLocked(fmt.Errorf("%w: %v", domain.ErrFeedClosed, ErrClientClosed))
	c.mu.Unlock()

	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if conn := c.conn.Load(); conn != nil {
		conn.Close()
	}
	return nil
}

// SubscriptionCount returns the number of subscribers per topic.
func (c *BinanceStreamClient) SubscriptionCount() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make(map[string]int, len(c.topics))
	for topic, subscribers := range c.topics {
		result[topic] = len(subscribers)
	}
	return result
}

func (c *BinanceStreamClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// connect dials the endpoint once. Later calls only report whether recws
// currently holds a live connection.
func (c *BinanceStreamClient) connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.isClosed() {
		return ErrClientClosed
	}

	conn := c.conn.Load()
	if conn == nil {
		endpoint, err := url.Parse(c.config.Endpoint)
		if err != nil || (endpoint.Scheme != "ws" && endpoint.Scheme != "wss") {
			return fmt.Errorf("invalid stream endpoint %q", c.config.Endpoint)
		}

		conn = &recws.RecConn{
			RecIntvlMin:      c.config.ReconnectMin,
			RecIntvlMax:      c.config.ReconnectMax,
			RecIntvlFactor:   2,
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.config.HandshakeTimeout,
			KeepAliveTimeout: c.config.KeepAlive,
			NonVerbose:       true,
			SubscribeHandler: func() error {
				c.logger.Info("connected", zap.String("endpoint", c.config.Endpoint))
				return nil
			},
		}
		// blocks for the handshake timeout while the first attempt runs
		conn.Dial(c.config.Endpoint, nil)
		c.conn.Store(conn)
		go c.read(conn)
		go c.write(conn)
	}

	if !conn.IsConnected() {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrTransient, c.config.Endpoint, conn.GetDialError())
	}
	return nil
}

func (c *BinanceStreamClient) read(conn *recws.RecConn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				conn.Close()
				return
			}
			c.dropSubscriptions(err)
			if errors.Is(err, recws.ErrNotConnected) {
				time.Sleep(notConnectedPoll)
			}
			continue
		}

		c.dispatch(msg)
	}
}

func (c *BinanceStreamClient) dispatch(msg []byte) {
	var envelope webSocketEnvelope
	if err := json.Unmarshal(msg, &envelope); err != nil {
		c.logger.Warn("unexpected message", zap.ByteString("msg", msg), zap.Error(err))
		return
	}

	// if message have id then it is a response to a (un)subscribe request
	if envelope.ReqId != nil {
		if envelope.Error != nil {
			c.logger.Warn("request rejected",
				zap.Int64("id", *envelope.ReqId),
				zap.Int("code", envelope.Error.Code),
				zap.String("msg", envelope.Error.Msg),
			)
		}
		return
	}

	if envelope.Stream == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.topics[envelope.Stream] {
		if !sub.TrySend(envelope.Data) {
			c.logger.Warn("dropping slow subscriber", zap.String("topic", envelope.Stream))
			c.removeSubscriberLocked(envelope.Stream, id, domain.ErrSlowConsumer)
		}
	}
}

// dropSubscriptions ends every subscription after the connection failed.
// recws is already redialing at this point.
func (c *BinanceStreamClient) dropSubscriptions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.topics) == 0 {
		return
	}
	c.logger.Warn("connection dropped", zap.Error(err))
	c.closeAllLocked(fmt.Errorf("%w: %v", domain.ErrFeedClosed, err))
}

func (c *BinanceStreamClient) closeAllLocked(reason error) {
	for _, subscribers := range c.topics {
		for _, sub := range subscribers {
			sub.Close(reason)
		}
	}
	c.topics = make(map[string]map[uint64]*domain.Subscription[[]byte])
}

func writeJSON(conn *recws.RecConn, v interface{}) error {
	if !conn.IsConnected() {
		return recws.ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (c *BinanceStreamClient) nextReqID() int64 {
	return c.reqIDSeq.Add(1)
}

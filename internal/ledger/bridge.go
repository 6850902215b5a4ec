package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"attestation-core/pkg/logger"
)

// Bridge talks JSON-RPC over a websocket to the headless wallet bridge.
// Requests are correlated by uuid tag; node events arrive as untagged
// frames and are fanned out on the Events channel. The connection is
// re-dialed with backoff; pending calls fail fast on disconnect instead
// of hanging.
type Bridge struct {
	url string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan rpcResponse

	events chan Event
	done   chan struct{}
}

type rpcRequest struct {
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// untagged event frame
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const callTimeout = 30 * time.Second

func NewBridge(url string) *Bridge {
	return &Bridge{
		url:     url,
		pending: make(map[string]chan rpcResponse),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
}

// Start dials the bridge and keeps the connection alive until ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.dial(); err != nil {
		return err
	}
	go b.run(ctx)
	return nil
}

func (b *Bridge) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(b.url, nil)
	if err != nil {
		return fmt.Errorf("dial wallet bridge %s: %w", b.url, err)
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	logger.Info("connected to wallet bridge", zap.String("url", b.url))
	return nil
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.events)
	defer close(b.done)
	for {
		err := b.readLoop()
		b.failPending(err)
		select {
		case <-ctx.Done():
			b.mu.Lock()
			if b.conn != nil {
				b.conn.Close()
			}
			b.mu.Unlock()
			return
		default:
		}
		logger.Warn("wallet bridge disconnected, reconnecting", zap.Error(err))
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			if err := b.dial(); err == nil {
				break
			}
		}
	}
}

func (b *Bridge) readLoop() error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return errors.New("no connection")
	}
	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return err
		}
		if resp.Event != "" {
			b.dispatchEvent(resp)
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (b *Bridge) dispatchEvent(frame rpcResponse) {
	var ev Event
	ev.Type = frame.Event
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &ev); err != nil {
			logger.Error("bad event frame from bridge", zap.String("event", frame.Event), zap.Error(err))
			return
		}
		ev.Type = frame.Event
	}
	select {
	case b.events <- ev:
	default:
		// a stalled consumer must not wedge the read loop; the periodic
		// sweeps re-derive anything a dropped event would have driven
		logger.Warn("dropping bridge event, consumer too slow", zap.String("event", frame.Event))
	}
}

func (b *Bridge) failPending(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		ch <- rpcResponse{ID: id, Error: fmt.Sprintf("connection lost: %v", err)}
		delete(b.pending, id)
	}
}

func (b *Bridge) call(ctx context.Context, method string, params, result interface{}) error {
	id := uuid.NewString()
	ch := make(chan rpcResponse, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return errors.New("wallet bridge not connected")
	}
	b.pending[id] = ch
	err := conn.WriteJSON(rpcRequest{ID: id, Method: method, Params: params})
	b.mu.Unlock()
	if err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return ctx.Err()
	case <-b.done:
		return errors.New("wallet bridge closed")
	case resp := <-ch:
		if resp.Error != "" {
			return fmt.Errorf("%s: %s", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, result)
		}
		return nil
	}
}

func (b *Bridge) Broadcast(ctx context.Context, from string, msgs []Message) (string, error) {
	var out struct {
		Unit string `json:"unit"`
	}
	err := b.call(ctx, "broadcast", map[string]interface{}{
		"paying_address": from,
		"messages":       msgs,
	}, &out)
	return out.Unit, err
}

func (b *Bridge) SendPayment(ctx context.Context, req PaymentRequest) (string, error) {
	var out struct {
		Unit string `json:"unit"`
	}
	err := b.call(ctx, "send_payment", req, &out)
	return out.Unit, err
}

func (b *Bridge) ReadBalance(ctx context.Context, address string) (Balance, error) {
	var out Balance
	err := b.call(ctx, "read_balance", map[string]string{"address": address}, &out)
	return out, err
}

func (b *Bridge) IssueOrSelectAddress(ctx context.Context, index uint32) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	err := b.call(ctx, "issue_or_select_address", map[string]uint32{"index": index}, &out)
	return out.Address, err
}

func (b *Bridge) IssueNextAddress(ctx context.Context) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	err := b.call(ctx, "issue_next_address", nil, &out)
	return out.Address, err
}

func (b *Bridge) SendText(ctx context.Context, device, text string) error {
	return b.call(ctx, "send_text", map[string]string{"device": device, "text": text}, nil)
}

func (b *Bridge) TransferParents(ctx context.Context, units []string) ([]TransferInput, error) {
	var out []TransferInput
	err := b.call(ctx, "transfer_parents", map[string][]string{"units": units}, &out)
	return out, err
}

func (b *Bridge) GetAttestation(ctx context.Context, unit string) (AttestationInfo, error) {
	var out AttestationInfo
	err := b.call(ctx, "get_attestation", map[string]string{"unit": unit}, &out)
	return out, err
}

func (b *Bridge) AddressesWithUnspent(ctx context.Context, addrs []string) ([]string, error) {
	var out []string
	err := b.call(ctx, "addresses_with_unspent", map[string][]string{"addresses": addrs}, &out)
	return out, err
}

func (b *Bridge) IsCatchingUp(ctx context.Context) (bool, error) {
	var out struct {
		CatchingUp bool `json:"catching_up"`
	}
	err := b.call(ctx, "is_catching_up", nil, &out)
	return out.CatchingUp, err
}

func (b *Bridge) Events() <-chan Event {
	return b.events
}

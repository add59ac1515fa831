package solana

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solpay_relay/internal/domain"
	"solpay_relay/internal/infra"

	solgo "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

const (
	logBufferSize = 64
	maxRetries    = 10
)

// logStream is the part of a ws log subscription the client reads from.
type logStream interface {
	Recv(ctx context.Context) (*ws.LogResult, error)
	Unsubscribe()
}

// dialFunc opens a log subscription for one account and returns a closer for its connection.
type dialFunc func(ctx context.Context, account solgo.PublicKey) (logStream, func(), error)

// Client reads balances over JSON-RPC and follows account logs over the pubsub websocket.
type Client struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	dial       dialFunc
	retryBase  time.Duration

	wg sync.WaitGroup
}

// NewClient creates a ledger client for the given endpoints.
func NewClient(rpcURL, wsURL, commitment string) *Client {
	c := &Client{
		rpc:        rpc.New(rpcURL),
		commitment: rpc.CommitmentType(commitment),
		retryBase:  time.Second,
	}
	c.dial = func(ctx context.Context, account solgo.PublicKey) (logStream, func(), error) {
		conn, err := ws.Connect(ctx, wsURL)
		if err != nil {
			return nil, nil, fmt.Errorf("dial failed: %w", err)
		}
		sub, err := conn.LogsSubscribeMentions(account, c.commitment)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("subscribe failed: %w", err)
		}
		return sub, conn.Close, nil
	}
	return c
}

// ParseAddress decodes a base58 account address.
func ParseAddress(address string) (solgo.PublicKey, error) {
	pk, err := solgo.PublicKeyFromBase58(address)
	if err != nil {
		return solgo.PublicKey{}, fmt.Errorf("%q: %w: %w", address, domain.ErrInvalidAddress, err)
	}
	return pk, nil
}

// GetBalance returns the account balance in lamports at the configured commitment.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return 0, err
	}
	out, err := c.rpc.GetBalance(ctx, pk, c.commitment)
	if err != nil {
		return 0, domain.NewNetworkError("get_balance", err)
	}
	return out.Value, nil
}

// SubscribeLogs follows every transaction that mentions address.
// The first subscription is opened before returning so that connection errors reach the caller.
// After that the stream reconnects with backoff; notifications missed while disconnected are not replayed.
// The channel is closed when ctx is done.
func (c *Client) SubscribeLogs(ctx context.Context, address string) (<-chan domain.LogNotification, error) {
	pk, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	stream, closeConn, err := c.dial(ctx, pk)
	if err != nil {
		return nil, domain.NewNetworkError("logs_subscribe", err)
	}

	out := make(chan domain.LogNotification, logBufferSize)
	c.wg.Add(1)
	go c.connectionLoop(ctx, address, pk, stream, closeConn, out)
	return out, nil
}

// Wait blocks until every subscription goroutine has exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) connectionLoop(ctx context.Context, address string, pk solgo.PublicKey, stream logStream, closeConn func(), out chan<- domain.LogNotification) {
	defer c.wg.Done()
	defer close(out)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Log subscription panic recovered", slog.String("wallet", address), slog.Any("panic", r))
		}
	}()

	logger := slog.With(slog.String("wallet", address))
	logger.Info("🔌 Log subscription opened")

	retryCount := 0
	for {
		if stream != nil {
			retryCount = 0
			err := c.readLoop(ctx, stream, out)
			stream.Unsubscribe()
			closeConn()
			stream = nil
			if ctx.Err() != nil {
				logger.Info("Log subscription closed")
				return
			}
			logger.Warn("Log subscription dropped", slog.Any("error", err))
		}

		delay := infra.CalculateBackoffFrom(c.retryBase, retryCount)
		retryCount++
		if retryCount > maxRetries {
			logger.Error("Log subscription max retries exceeded, resetting counter")
			retryCount = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s, closer, err := c.dial(ctx, pk)
		if err != nil {
			logger.Warn("Log subscription reconnect failed", slog.Any("error", err), slog.Int("retry", retryCount))
			continue
		}
		logger.Info("🔌 Log subscription restored")
		stream, closeConn = s, closer
	}
}

func (c *Client) readLoop(ctx context.Context, stream logStream, out chan<- domain.LogNotification) error {
	for {
		res, err := stream.Recv(ctx)
		if err != nil {
			return err
		}
		if res == nil {
			continue
		}
		select {
		case out <- toNotification(res):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func toNotification(res *ws.LogResult) domain.LogNotification {
	lines := make([]string, len(res.Value.Logs))
	copy(lines, res.Value.Logs)
	return domain.LogNotification{
		Signature: res.Value.Signature.String(),
		Slot:      res.Context.Slot,
		Lines:     lines,
		Failed:    res.Value.Err != nil,
	}
}

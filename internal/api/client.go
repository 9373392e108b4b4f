package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"pnlscope/internal/domain"
)

// Client calls a remote AnalysisService.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the gRPC server at addr. The connection is
// established lazily on the first call.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeResult is the outcome of a remote Analyze call.
type AnalyzeResult struct {
	Session      *domain.Session
	Complete     bool
	Persisted    bool
	PersistError string
}

// Analyze runs an analysis on the server.
func (c *Client) Analyze(ctx context.Context, symbol, purchaseDate string, persist bool) (*AnalyzeResult, error) {
	out, err := c.invoke(ctx, "Analyze", map[string]any{
		"symbol":        symbol,
		"purchase_date": purchaseDate,
		"persist":       persist,
	})
	if err != nil {
		return nil, err
	}
	f := out.GetFields()
	sessStruct := f["session"].GetStructValue()
	sess, err := sessionFromStruct(sessStruct)
	if err != nil {
		return nil, err
	}
	return &AnalyzeResult{
		Session:      sess,
		Complete:     sessStruct.GetFields()["complete"].GetBoolValue(),
		Persisted:    f["persisted"].GetBoolValue(),
		PersistError: f["persist_error"].GetStringValue(),
	}, nil
}

// ListSessions lists persisted sessions, most recent first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	out, err := c.invoke(ctx, "ListSessions", map[string]any{})
	if err != nil {
		return nil, err
	}
	return sessionKeysFromStruct(out)
}

// GetSession loads a persisted session.
func (c *Client) GetSession(ctx context.Context, symbol, purchaseDate string) (*domain.Session, error) {
	out, err := c.invoke(ctx, "GetSession", map[string]any{
		"symbol":        symbol,
		"purchase_date": purchaseDate,
	})
	if err != nil {
		return nil, err
	}
	return sessionFromStruct(out)
}

// StockInfo returns the server's description of symbol.
func (c *Client) StockInfo(ctx context.Context, symbol string) (*domain.StockInfo, error) {
	out, err := c.invoke(ctx, "StockInfo", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	return stockInfoFromStruct(out), nil
}

// Package grpcapi implements the remote records and cases APIs as unary gRPC
// calls carrying JSON messages.
package grpcapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/medsync/internal/common"
	"github.com/dmitrijs2005/medsync/internal/remote"
	"github.com/dmitrijs2005/medsync/internal/remote/formpost"
)

// TokenSource supplies the access token attached to every call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Refresher is implemented by token sources that can renew an expired
// token. A call rejected as unauthenticated is retried once after Refresh.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type Client struct {
	conn     *grpc.ClientConn
	tokens   TokenSource
	files    remote.FileSubmitter
	timeout  time.Duration
	dialOpts []grpc.DialOption
}

type Option func(*Client)

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

// WithFileSubmitter replaces the HTTP form poster used by SubmitFile.
func WithFileSubmitter(fs remote.FileSubmitter) Option { return func(c *Client) { c.files = fs } }

// WithTimeout bounds every call; zero means no bound.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

func New(target string, opts ...Option) (*Client, error) {
	c := &Client{files: formpost.New(nil)}
	for _, opt := range opts {
		opt(c)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, c.dialOpts...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Records returns the records API view of c.
func (c *Client) Records() *RecordsClient { return &RecordsClient{c: c} }

// Cases returns the cases API view of c.
func (c *Client) Cases() *CasesClient { return &CasesClient{c: c} }

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if c.tokens == nil {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	err = invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}

	r, ok := c.tokens.(Refresher)
	if !ok {
		return err
	}
	if rerr := r.Refresh(ctx); rerr != nil {
		return err
	}
	token, terr := c.tokens.Token(ctx)
	if terr != nil {
		return err
	}
	return invoker(withAccessToken(ctx, token), method, req, reply, cc, opts...)
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return mapError(method, err)
	}
	return nil
}

func mapError(method string, err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %w: %s", method, common.ErrUnauthorized, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %s", method, common.ErrUnavailable, st.Message())
	case codes.InvalidArgument, codes.FailedPrecondition, codes.AlreadyExists:
		return fmt.Errorf("%s: %w: %s", method, common.ErrRejected, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%s: %w: %s", method, common.ErrNotFound, st.Message())
	default:
		return fmt.Errorf("%s: %w: %w", method, common.ErrNetwork, err)
	}
}

// Package grpc implements the gRPC transport for liveprompt.
//
// The service is liveprompt.v1.Bridge with a single unary method,
// HandlePrompt. Messages are plain JSON carried by a registered codec, so
// clients call it with the "json" content-subtype and need no generated stubs.
// The standard gRPC health service is registered on the same server.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/peer"

	"github.com/nadzzz/liveprompt/internal/message"
	"github.com/nadzzz/liveprompt/internal/transport"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "liveprompt.v1.Bridge"

// HandlePromptMethod is the full method path for HandlePrompt.
const HandlePromptMethod = "/" + ServiceName + "/HandlePrompt"

// CodecName is the content-subtype clients must select.
const CodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages with encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

// PromptRequest is the HandlePrompt request message.
type PromptRequest struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source,omitempty"`
	Prompt string `json:"prompt"`
}

// bridgeServer is the service contract registered with the gRPC server.
type bridgeServer interface {
	HandlePrompt(ctx context.Context, req *PromptRequest) (*message.Envelope, error)
}

type service struct {
	handler transport.Handler
}

func (s *service) HandlePrompt(ctx context.Context, req *PromptRequest) (*message.Envelope, error) {
	source := req.Source
	if source == "" {
		source = "grpc"
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			source = "grpc:" + p.Addr.String()
		}
	}
	p := &message.Prompt{ID: req.ID, Source: source, Text: req.Prompt}
	return s.handler(transport.Detach(ctx), p), nil
}

func handlePromptHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PromptRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(bridgeServer).HandlePrompt(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HandlePromptMethod}
	h := func(ctx context.Context, req any) (any, error) {
		return srv.(bridgeServer).HandlePrompt(ctx, req.(*PromptRequest))
	}
	return interceptor(ctx, in, info, h)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*bridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HandlePrompt", Handler: handlePromptHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "liveprompt/v1/bridge.proto",
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port int

	mu     sync.Mutex
	server *grpc.Server
	closed bool
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.serve(ctx, lis, handler)
}

// serve owns lis and closes it when the server stops, or at once if Close was
// already called.
func (t *Transport) serve(ctx context.Context, lis net.Listener, handler transport.Handler) error {
	server := grpc.NewServer()
	server.RegisterService(&serviceDesc, &service{handler: handler})

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return lis.Close()
	}
	t.server = server
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		hs.Shutdown()
		server.GracefulStop()
	}()

	if err := server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	server := t.server
	t.mu.Unlock()

	if server != nil {
		server.GracefulStop()
	}
	return nil
}

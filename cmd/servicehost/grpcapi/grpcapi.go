// Package grpcapi exposes the service registry over gRPC.
//
// The gridservices.v1.ServiceRegistry service uses well-known protobuf types
// so no generated code is needed:
//
//	ListServices(google.protobuf.Struct) returns (google.protobuf.ListValue)
//	GetService(google.protobuf.StringValue) returns (google.protobuf.Struct)
//	GetForecast(google.protobuf.StringValue) returns (google.protobuf.Struct)
//
// The ListServices filter struct accepts the string fields type, appId and
// plantId. The standard grpc.health.v1 service is registered alongside.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/gridservices/pkg/services"
)

const ServiceName = "gridservices.v1.ServiceRegistry"

const (
	listServicesMethod = "/" + ServiceName + "/ListServices"
	getServiceMethod   = "/" + ServiceName + "/GetService"
	getForecastMethod  = "/" + ServiceName + "/GetForecast"
)

// RegistryServer is the server API of the ServiceRegistry service.
type RegistryServer interface {
	ListServices(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	GetService(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetForecast(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegistryServiceDesc describes the ServiceRegistry service to grpc.
var RegistryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListServices", Handler: listServicesHandler},
		{MethodName: "GetService", Handler: getServiceHandler},
		{MethodName: "GetForecast", Handler: getForecastHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterRegistryServer registers srv with s.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&RegistryServiceDesc, srv)
}

func listServicesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).ListServices(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listServicesMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).ListServices(ctx, req.(*structpb.Struct))
	})
}

func getServiceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).GetService(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getServiceMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).GetService(ctx, req.(*wrapperspb.StringValue))
	})
}

func getForecastHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RegistryServer).GetForecast(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getForecastMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).GetForecast(ctx, req.(*wrapperspb.StringValue))
	})
}

// RegistryClient is the client API of the ServiceRegistry service.
type RegistryClient struct {
	cc grpc.ClientConnInterface
}

func NewRegistryClient(cc grpc.ClientConnInterface) *RegistryClient {
	return &RegistryClient{cc: cc}
}

func (c *RegistryClient) ListServices(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, listServicesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RegistryClient) GetService(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getServiceMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RegistryClient) GetForecast(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getForecastMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Registry is the part of services.Manager served over gRPC.
type Registry interface {
	List(ctx context.Context, f services.Filter) ([]services.Record, error)
	Get(ctx context.Context, id string) (services.Record, error)
	Forecast(ctx context.Context, id string) (services.Output, error)
}

// Server implements RegistryServer over a Registry.
type Server struct {
	reg    Registry
	logger *slog.Logger
}

func NewServer(reg Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{reg: reg, logger: logger}
}

func (s *Server) ListServices(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	f := services.Filter{}
	for name, v := range in.GetFields() {
		str, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "filter field %q must be a string", name)
		}
		switch name {
		case "type":
			f.Type = services.Kind(str.StringValue)
		case "appId":
			f.AppID = str.StringValue
		case "plantId":
			f.PlantID = str.StringValue
		default:
			return nil, status.Errorf(codes.InvalidArgument, "unknown filter field %q", name)
		}
	}

	records, err := s.reg.List(ctx, f)
	if err != nil {
		return nil, s.toStatus("ListServices", err)
	}
	out := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(records))}
	for _, r := range records {
		st, err := toStruct(r)
		if err != nil {
			return nil, s.toStatus("ListServices", err)
		}
		out.Values = append(out.Values, structpb.NewStructValue(st))
	}
	return out, nil
}

func (s *Server) GetService(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "service id is required")
	}
	r, err := s.reg.Get(ctx, in.GetValue())
	if err != nil {
		return nil, s.toStatus("GetService", err)
	}
	st, err := toStruct(r)
	if err != nil {
		return nil, s.toStatus("GetService", err)
	}
	return st, nil
}

func (s *Server) GetForecast(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "service id is required")
	}
	out, err := s.reg.Forecast(ctx, in.GetValue())
	if err != nil {
		return nil, s.toStatus("GetForecast", err)
	}
	st, err := toStruct(out)
	if err != nil {
		return nil, s.toStatus("GetForecast", err)
	}
	return st, nil
}

// toStatus maps service errors to gRPC codes. Unexpected errors are logged
// and hidden behind a generic message.
func (s *Server) toStatus(method string, err error) error {
	var cfgErr *services.ConfigurationError
	switch {
	case errors.Is(err, services.ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, services.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &cfgErr):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		s.logger.Error("grpc request failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal server error")
	}
}

// toStruct converts v through its JSON form so field names match the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("convert %T: %w", v, err)
	}
	return st, nil
}

// Recorder counts handled requests.
type Recorder interface {
	RecordGRPCRequest(method, code string)
}

// MetricsInterceptor records every unary call with its status code.
func MetricsInterceptor(rec Recorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if rec != nil {
			rec.RecordGRPCRequest(info.FullMethod, status.Code(err).String())
		}
		return resp, err
	}
}

// New creates a gRPC server with the registry, health and reflection
// services registered. The health status starts as NOT_SERVING; the caller
// flips it once the registry is initialized.
func New(reg Registry, rec Recorder, logger *slog.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.UnaryInterceptor(MetricsInterceptor(rec)))

	RegisterRegistryServer(srv, NewServer(reg, logger))

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	reflection.Register(srv)
	return srv, healthServer
}

// SetServing marks the server and the registry service as serving.
func SetServing(h *health.Server) {
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}

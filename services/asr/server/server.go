package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	"github.com/xilidan/workmate/services/asr/consts"
	"github.com/xilidan/workmate/services/asr/entity"
	"github.com/xilidan/workmate/services/asr/usecase"
)

// AsrServer is the service contract. Messages travel as google.protobuf.Struct.
type AsrServer interface {
	TranscribeChunk(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetTranscript(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: consts.ServiceName,
	HandlerType: (*AsrServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TranscribeChunk", Handler: unaryHandler(consts.MethodTranscribeChunk, AsrServer.TranscribeChunk)},
		{MethodName: "GetTranscript", Handler: unaryHandler(consts.MethodGetTranscript, AsrServer.GetTranscript)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "workmate/asr/v1/asr.proto",
}

type Server struct {
	usecase usecase.Usecase
	health  *health.Server
	log     *slog.Logger
}

func NewServerOptions(usecase usecase.Usecase, log *slog.Logger) *Server {
	return &Server{
		usecase: usecase,
		health:  health.NewServer(),
		log:     log,
	}
}

func (s *Server) NewServer() (*grpc.Server, error) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))
	srv.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(consts.ServiceName, healthpb.HealthCheckResponse_SERVING)
	return srv, nil
}

// Shutdown flips health to NOT_SERVING so clients drain before GracefulStop.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

func (s *Server) TranscribeChunk(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := entity.TranscribeChunkRequestFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	result, err := s.usecase.TranscribeChunk(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return result.ToStruct()
}

func (s *Server) GetTranscript(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	result, err := s.usecase.GetTranscript(ctx, entity.GetTranscriptRequestFromStruct(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return result.ToStruct()
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	attrs := []any{
		slog.String("method", info.FullMethod),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.log.Warn("grpc request failed", append(attrs, slog.String("error", err.Error()))...)
	} else {
		s.log.Debug("grpc request served", attrs...)
	}
	return resp, err
}

func toStatus(err error) error {
	var pe *apperrors.ProviderError
	switch {
	case apperrors.IsValidation(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case apperrors.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &pe):
		return status.Error(codes.Unavailable, pe.Message)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func unaryHandler(
	fullMethod string,
	call func(AsrServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AsrServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AsrServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Package asr is the gRPC client for the streaming transcription sidecar.
package asr

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/xilidan/workmate/pkg/errors"
	asrconsts "github.com/xilidan/workmate/services/asr/consts"
	asrentity "github.com/xilidan/workmate/services/asr/entity"
	"github.com/xilidan/workmate/services/transcription/entity"
)

const providerName = "asr"

type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	log    *slog.Logger
}

func New(address string, log *slog.Logger, opts ...grpc.DialOption) (*Client, error) {
	log.Debug("creating asr client", slog.String("address", address))

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc connection: %w", err)
	}

	return &Client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		log:    log,
	}, nil
}

func (c *Client) TranscribeChunk(ctx context.Context, req entity.ChunkRequest) (*entity.ChunkResult, error) {
	in, err := (&asrentity.TranscribeChunkRequest{
		AudioData:  req.Audio,
		MeetingID:  req.MeetingID,
		Sequence:   req.Sequence,
		Format:     req.Format,
		SampleRate: int32(req.SampleRate),
		Language:   req.Language,
	}).ToStruct()
	if err != nil {
		return nil, fmt.Errorf("encode chunk request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, asrconsts.MethodTranscribeChunk, in, out); err != nil {
		c.log.Debug("asr chunk call failed",
			slog.String("meeting_id", req.MeetingID),
			slog.Int64("sequence", req.Sequence),
			slog.String("error", err.Error()))
		return nil, fromStatus(err)
	}

	resp := asrentity.TranscribeChunkResponseFromStruct(out)
	return &entity.ChunkResult{
		Text:       resp.Text,
		Speaker:    resp.Speaker,
		Confidence: float64(resp.Confidence),
	}, nil
}

func (c *Client) GetTranscript(ctx context.Context, meetingID string) (*asrentity.GetTranscriptResponse, error) {
	in, err := (&asrentity.GetTranscriptRequest{MeetingID: meetingID}).ToStruct()
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, asrconsts.MethodGetTranscript, in, out); err != nil {
		return nil, fromStatus(err)
	}
	return asrentity.GetTranscriptResponseFromStruct(out), nil
}

// Healthy reports whether the sidecar answers SERVING for the ASR service.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: asrconsts.ServiceName})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.Provider(providerName, err.Error())
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return apperrors.InvalidInput("%s", st.Message())
	case codes.NotFound:
		return apperrors.NotFound("%s", st.Message())
	case codes.Canceled:
		return context.Canceled
	default:
		return apperrors.Provider(providerName, st.Message())
	}
}

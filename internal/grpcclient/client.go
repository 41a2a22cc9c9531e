package grpcclient

import (
	"context"
	"encoding/base64"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/logging"
	"github.com/example/thermoscan/internal/vision"
)

// ExtractMethod is the unary method served by self-hosted vision services.
// Requests and responses are google.protobuf.Struct values.
const ExtractMethod = "/thermoscan.vision.v1.VisionService/Extract"

// DialVisionService returns an Extractor backed by a gRPC vision service. The
// connection is established lazily so an absent service only fails the
// requests routed to it.
func DialVisionService(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (vision.Extractor, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_vision_service", "", err)
		logger.Error("failed to dial vision service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcVisionService{conn: conn, logger: logger.Named("grpc_vision")}, conn, nil
}

type grpcVisionService struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcVisionService) Extract(ctx context.Context, image []byte, credential string) (*vision.Result, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"image":      base64.StdEncoding.EncodeToString(image),
		"mime_type":  "image/jpeg",
		"prompt":     vision.Prompt,
		"max_tokens": vision.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}
	if credential != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+credential)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ExtractMethod, req, resp); err != nil {
		mapped := mapStatus(err)
		g.logger.Error("vision service call failed", zap.Error(mapped))
		return nil, mapped
	}

	answer, ok := resp.GetFields()["answer"]
	if !ok {
		return nil, domain.ErrMalformedResponse.Withf("missing answer")
	}
	text, ok := answer.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, domain.ErrMalformedResponse.Withf("answer is not a string")
	}
	return vision.GenuineResult(text.StringValue)
}

// mapStatus separates failures the service reported from failures to reach it.
func mapStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return domain.ErrTransport.Wrap(err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return domain.ErrTransport.Wrap(errors.New(st.Message()))
	default:
		return domain.ErrProviderStatus.Withf("%s: %s", st.Code(), st.Message())
	}
}

package tools

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/hamid-vakilzadeh/replication-ai/pkg/errors"
)

// QdrantSearcher implements VectorSearcher against a Qdrant gRPC endpoint.
type QdrantSearcher struct {
	conn         *grpc.ClientConn
	points       pb.PointsClient
	payloadField string
}

// QdrantOption configures a QdrantSearcher.
type QdrantOption func(*QdrantSearcher)

// WithPayloadField names the payload key holding chunk text. Defaults to "text".
func WithPayloadField(field string) QdrantOption {
	return func(s *QdrantSearcher) {
		if field != "" {
			s.payloadField = field
		}
	}
}

// WithPointsClient replaces the gRPC points client.
func WithPointsClient(client pb.PointsClient) QdrantOption {
	return func(s *QdrantSearcher) { s.points = client }
}

// NewQdrantSearcher connects to addr lazily; no RPC is made until Search.
func NewQdrantSearcher(addr string, opts ...QdrantOption) (*QdrantSearcher, error) {
	s := &QdrantSearcher{payloadField: "text"}
	for _, opt := range opts {
		opt(s)
	}
	if s.points == nil {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("qdrant client %s: %w", addr, err)
		}
		s.conn = conn
		s.points = pb.NewPointsClient(conn)
	}
	return s, nil
}

// Search returns the nearest points with their text payload.
func (s *QdrantSearcher) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float32) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}
	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, classifyQdrant(collection, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetId().GetUuid()
		if id == "" {
			id = fmt.Sprintf("%d", r.GetId().GetNum())
		}
		var text string
		if v, ok := r.GetPayload()[s.payloadField]; ok {
			text = v.GetStringValue()
		}
		hits = append(hits, Hit{ID: id, Score: r.GetScore(), Text: text})
	}
	return hits, nil
}

// Close releases the gRPC connection.
func (s *QdrantSearcher) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// classifyQdrant maps gRPC failures onto tool error signals: a missing
// collection is permanent, an unreachable or slow server is transient.
func classifyQdrant(collection string, err error) error {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.PermissionDenied, codes.Unauthenticated:
		return errors.ToolUnavailable("qdrant:"+collection, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return errors.ToolTimeout("qdrant:"+collection, err)
	}
	return fmt.Errorf("qdrant search %s: %w", collection, err)
}

var _ VectorSearcher = (*QdrantSearcher)(nil)

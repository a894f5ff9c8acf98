package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCConfig configures the Qdrant gRPC adapter.
type GRPCConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Timeout bounds each call. Default: 5000ms.
	Timeout time.Duration
	// VectorSize and Distance are used when creating the collection.
	VectorSize int
	Distance   string
	// MaxMessageSize caps gRPC messages. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *GRPCConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultHTTPTimeout
	}
	if c.VectorSize <= 0 {
		c.VectorSize = 384
	}
	if c.Distance == "" {
		c.Distance = "Cosine"
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c *GRPCConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535", ErrInvalidConfig)
	}
	if _, err := qdrantDistance(c.Distance); err != nil {
		return err
	}
	return nil
}

// GRPCStore is the Qdrant adapter over the official gRPC client. The
// connection is made by Initialize, so an unreachable server leads to the
// fallback like the REST adapter.
type GRPCStore struct {
	*adapter
}

// NewGRPCStore validates cfg. No connection is made until Initialize.
func NewGRPCStore(cfg GRPCConfig, opts Options, logger *zap.Logger) (*GRPCStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigurationError{Driver: DriverQdrantGRPC, Reason: err.Error()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}
	b := &grpcBackend{cfg: cfg}
	return &GRPCStore{adapter: newAdapter(DriverQdrantGRPC, b, opts, logger)}, nil
}

type grpcBackend struct {
	cfg    GRPCConfig
	client *qdrant.Client
}

func qdrantDistance(name string) (qdrant.Distance, error) {
	switch strings.ToLower(name) {
	case "cosine", "":
		return qdrant.Distance_Cosine, nil
	case "dot":
		return qdrant.Distance_Dot, nil
	case "euclid":
		return qdrant.Distance_Euclid, nil
	case "manhattan":
		return qdrant.Distance_Manhattan, nil
	}
	return 0, fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, name)
}

func (b *grpcBackend) target() string {
	return fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
}

// wrap classifies a gRPC error as timeout or connectivity.
func (b *grpcBackend) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == grpccodes.DeadlineExceeded {
		return &TimeoutError{Op: op, URL: b.target(), Timeout: b.cfg.Timeout, Err: err}
	}
	return &ConnectivityError{Op: op, URL: b.target(), Err: err}
}

func (b *grpcBackend) open(ctx context.Context, collection string) error {
	if b.client == nil {
		client, err := qdrant.NewClient(&qdrant.Config{
			Host:   b.cfg.Host,
			Port:   b.cfg.Port,
			APIKey: b.cfg.APIKey,
			UseTLS: b.cfg.UseTLS,
			GrpcOptions: []grpc.DialOption{
				grpc.WithDefaultCallOptions(
					grpc.MaxCallRecvMsgSize(b.cfg.MaxMessageSize),
					grpc.MaxCallSendMsgSize(b.cfg.MaxMessageSize),
				),
			},
		})
		if err != nil {
			return b.wrap("connect", err)
		}
		b.client = client
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.client.GetCollectionInfo(ctx, collection)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return b.wrap("probe", err)
	}

	distance, err := qdrantDistance(b.cfg.Distance)
	if err != nil {
		return err
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.cfg.VectorSize),
			Distance: distance,
		}),
	})
	if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
		return nil
	}
	return b.wrap("create_collection", err)
}

func (b *grpcBackend) upsert(ctx context.Context, collection string, records []Record) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(r.Payload.Key())),
			Vectors: qdrant.NewVectors(toFloat32(r.Vector)...),
			Payload: grpcPayload(r.Payload),
		}
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	return b.wrap("upsert", err)
}

func (b *grpcBackend) remove(ctx context.Context, collection string, keys []string) error {
	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		ids[i] = qdrant.NewIDUUID(PointID(k))
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	return b.wrap("delete", err)
}

func (b *grpcBackend) query(ctx context.Context, collection string, vector []float64, limit int, opts SearchOptions) ([]Hit, error) {
	pf, err := parseFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors: &qdrant.WithVectorsSelector{
			SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: opts.IncludeVectors},
		},
		Filter: pf.qdrantFilter(),
	})
	if err != nil {
		return nil, b.wrap("search", err)
	}

	hits := make([]Hit, len(points))
	for i, p := range points {
		score := float64(p.GetScore())
		hits[i] = Hit{Payload: payloadFromGRPC(p.GetPayload()), Score: &score}
		if opts.IncludeVectors {
			hits[i].Vector = toFloat64(p.GetVectors().GetVector().GetData())
		}
	}
	return hits, nil
}

func (b *grpcBackend) close() error {
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

func grpcPayload(p Payload) map[string]*qdrant.Value {
	p = p.normalized()
	return map[string]*qdrant.Value{
		"tool_id":      stringValue(p.ToolID),
		"urn":          stringValue(p.URN),
		"name":         stringValue(p.Name),
		"summary":      stringValue(p.Summary),
		"tags":         listValue(p.Tags),
		"capabilities": listValue(p.Capabilities),
	}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func listValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, s := range items {
		values[i] = stringValue(s)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

func payloadFromGRPC(m map[string]*qdrant.Value) Payload {
	p := Payload{
		ToolID:  m["tool_id"].GetStringValue(),
		URN:     m["urn"].GetStringValue(),
		Name:    m["name"].GetStringValue(),
		Summary: m["summary"].GetStringValue(),
	}
	for _, v := range m["tags"].GetListValue().GetValues() {
		p.Tags = append(p.Tags, v.GetStringValue())
	}
	for _, v := range m["capabilities"].GetListValue().GetValues() {
		p.Capabilities = append(p.Capabilities, v.GetStringValue())
	}
	return p.normalized()
}

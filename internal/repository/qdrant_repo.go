package repository

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/catalogsync/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host   string
	Port   int
	APIKey string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS bool   // Explicitly enable TLS without API Key
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository is the vector store gateway backed by Qdrant over gRPC.
// Every collection is addressed by name; point ids are UUID strings.
//
// Scores follow the local store: Cosine and Dot are raw similarities and
// Euclidean distances are reported as 1/(1+distance).
type QdrantRepository struct {
	conn          *grpc.ClientConn
	pointsClient  pb.PointsClient
	collectClient pb.CollectionsClient
	distances     sync.Map // collection name -> domain.DistanceMetric
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:          conn,
		pointsClient:  pb.NewPointsClient(conn),
		collectClient: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Ping checks the server answers a cheap call.
func (r *QdrantRepository) Ping(ctx context.Context) error {
	if _, err := r.collectClient.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return mapQdrantError("list collections", err)
	}
	return nil
}

// CreateCollection creates a collection with the given schema and HNSW parameters.
func (r *QdrantRepository) CreateCollection(ctx context.Context, spec domain.CollectionSpec) error {
	req := &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.VectorSize),
					Distance: toQdrantDistance(spec.Distance),
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			FullScanThreshold: optionalUint64(10000),
		},
	}
	if spec.HNSW.M > 0 {
		req.HnswConfig.M = optionalUint64(spec.HNSW.M)
	}
	if spec.HNSW.EfConstruct > 0 {
		req.HnswConfig.EfConstruct = optionalUint64(spec.HNSW.EfConstruct)
	}

	if _, err := r.collectClient.Create(ctx, req); err != nil {
		return mapQdrantError("create collection "+spec.Name, err)
	}
	r.distances.Store(spec.Name, fromQdrantDistance(toQdrantDistance(spec.Distance)))
	return nil
}

// DeleteCollection drops a collection and all its points.
func (r *QdrantRepository) DeleteCollection(ctx context.Context, name string) error {
	r.distances.Delete(name)
	resp, err := r.collectClient.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return mapQdrantError("delete collection "+name, err)
	}
	if !resp.GetResult() {
		return fmt.Errorf("delete collection %s: %w", name, domain.ErrCollectionNotFound)
	}
	return nil
}

// GetStats reports the collection's point count and schema.
func (r *QdrantRepository) GetStats(ctx context.Context, name string) (*domain.CollectionStats, error) {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return nil, mapQdrantError("get collection "+name, err)
	}
	result := info.GetResult()
	stats := &domain.CollectionStats{Name: name, PointCount: result.GetPointsCount()}
	if params := collectionVectorParams(result); params != nil {
		stats.VectorSize = int(params.GetSize())
		stats.Distance = fromQdrantDistance(params.GetDistance())
		r.distances.Store(name, stats.Distance)
	}
	return stats, nil
}

// distanceOf returns the collection's metric, asking the server once.
func (r *QdrantRepository) distanceOf(ctx context.Context, collection string) (domain.DistanceMetric, error) {
	if d, ok := r.distances.Load(collection); ok {
		return d.(domain.DistanceMetric), nil
	}
	stats, err := r.GetStats(ctx, collection)
	if err != nil {
		return "", err
	}
	return stats.Distance, nil
}

// euclidMaxDistance is the largest distance whose score 1/(1+d) still
// reaches threshold.
func euclidMaxDistance(threshold float32) float32 {
	if threshold >= 1 {
		return 0
	}
	return 1/threshold - 1
}

func euclidScore(distance float32) float32 {
	return 1 / (1 + distance)
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorParams(info *pb.CollectionInfo) *pb.VectorParams {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return nil
	}
	if single := vectors.GetParams(); single != nil {
		return single
	}
	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if vectorParams != nil {
				return vectorParams
			}
		}
	}
	return nil
}

// Upsert writes points in one call and waits until they are applied.
func (r *QdrantRepository) Upsert(ctx context.Context, collection string, points []domain.Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := toQdrantPayload(p.Payload)
		if err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
		structs = append(structs, &pb.PointStruct{
			Id: toPointID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		})
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return mapQdrantError("upsert points", err)
	}
	return nil
}

// ExistingIDs reports which of ids are already stored.
func (r *QdrantRepository) ExistingIDs(ctx context.Context, collection string, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = toPointID(id)
	}
	resp, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, mapQdrantError("get points", err)
	}
	for _, p := range resp.GetResult() {
		found[pointIDString(p.GetId())] = true
	}
	return found, nil
}

// Query returns up to limit neighbors scoring at least scoreThreshold, best first.
func (r *QdrantRepository) Query(ctx context.Context, collection string, vector []float32, limit int, scoreThreshold float32, filter *domain.PointFilter) ([]domain.ScoredPoint, error) {
	distance, err := r.distanceOf(ctx, collection)
	if err != nil {
		return nil, err
	}
	euclid := distance == domain.DistanceEuclidean

	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildFilter(filter),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if scoreThreshold > 0 {
		// Euclid thresholds are an upper bound on the distance.
		t := scoreThreshold
		if euclid {
			t = euclidMaxDistance(scoreThreshold)
		}
		req.ScoreThreshold = &t
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, mapQdrantError("search", err)
	}

	results := make([]domain.ScoredPoint, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		score := scored.GetScore()
		if euclid {
			score = euclidScore(score)
		}
		results = append(results, domain.ScoredPoint{
			ID:      pointIDString(scored.GetId()),
			Score:   score,
			Payload: fromQdrantPayload(scored.GetPayload()),
		})
	}
	return results, nil
}

// Scroll pages through points with their vectors. An empty next cursor means
// the last page was returned.
func (r *QdrantRepository) Scroll(ctx context.Context, collection string, filter *domain.PointFilter, cursor string, limit int) ([]domain.Point, string, error) {
	pageSize := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         buildFilter(filter),
		Limit:          &pageSize,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	}
	if cursor != "" {
		req.Offset = toPointID(cursor)
	}

	resp, err := r.pointsClient.Scroll(ctx, req)
	if err != nil {
		return nil, "", mapQdrantError("scroll", err)
	}

	points := make([]domain.Point, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		points = append(points, domain.Point{
			ID:      pointIDString(p.GetId()),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: fromQdrantPayload(p.GetPayload()),
		})
	}
	next := ""
	if resp.NextPageOffset != nil {
		next = pointIDString(resp.NextPageOffset)
	}
	return points, next, nil
}

func toPointID(id string) *pb.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: n}}
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func pointIDString(id *pb.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func toQdrantDistance(d domain.DistanceMetric) pb.Distance {
	switch d {
	case domain.DistanceEuclidean:
		return pb.Distance_Euclid
	case domain.DistanceDot:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func fromQdrantDistance(d pb.Distance) domain.DistanceMetric {
	switch d {
	case pb.Distance_Euclid:
		return domain.DistanceEuclidean
	case pb.Distance_Dot:
		return domain.DistanceDot
	case pb.Distance_Cosine:
		return domain.DistanceCosine
	default:
		return domain.DistanceMetric(d.String())
	}
}

// buildFilter translates exact-match conditions. Strings match as keywords,
// integers and integral floats as integers. Other floats become a closed
// range on the value itself.
func buildFilter(filter *domain.PointFilter) *pb.Filter {
	if filter.IsEmpty() {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(filter.Must))
	for _, m := range filter.Must {
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{Field: fieldCondition(m.Key, m.Value)},
		})
	}
	return &pb.Filter{Must: conditions}
}

func fieldCondition(key string, v interface{}) *pb.FieldCondition {
	if f, ok := v.(float32); ok {
		v = float64(f)
	}
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return &pb.FieldCondition{Key: key, Range: &pb.Range{Gte: &f, Lte: &f}}
	}
	return &pb.FieldCondition{Key: key, Match: toQdrantMatch(v)}
}

func toQdrantMatch(v interface{}) *pb.Match {
	switch t := v.(type) {
	case bool:
		return &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: t}}
	case int:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(t)}}
	case int32:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(t)}}
	case int64:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: t}}
	case float64:
		return &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(t)}}
	case string:
		return &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: t}}
	}
	return &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(v)}}
}

func toQdrantPayload(payload map[string]interface{}) (map[string]*pb.Value, error) {
	out := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		val, err := toQdrantValue(v)
		if err != nil {
			return nil, fmt.Errorf("payload field %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

func toQdrantValue(v interface{}) (*pb.Value, error) {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}, nil
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}, nil
	case []byte:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(t)}}, nil
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}, nil
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}, nil
	case uint32:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}, nil
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}, nil
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: f}}, nil
	case time.Time:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t.UTC().Format(time.RFC3339Nano)}}, nil
	case []string:
		values := make([]*pb.Value, len(t))
		for i, s := range t {
			values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}, nil
	case []interface{}:
		values := make([]*pb.Value, len(t))
		for i, item := range t {
			val, err := toQdrantValue(item)
			if err != nil {
				return nil, err
			}
			values[i] = val
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}, nil
	case map[string]interface{}:
		fields, err := toQdrantPayload(t)
		if err != nil {
			return nil, err
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}, nil
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}, nil
	}
}

func fromQdrantPayload(payload map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = fromQdrantValue(v)
	}
	return out
}

func fromQdrantValue(v *pb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		items := make([]interface{}, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = fromQdrantValue(item)
		}
		return items
	case *pb.Value_StructValue:
		return fromQdrantPayload(k.StructValue.GetFields())
	default:
		return nil
	}
}

// mapQdrantError classifies gRPC failures into the sentinels the orchestrator
// acts on: unreachable servers are transient and systemic, rejected
// credentials are systemic, missing collections are not found.
func mapQdrantError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("qdrant %s: %w: %w: %v", op, domain.ErrTransient, domain.ErrVectorStoreUnavailable, err)
	case codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("qdrant %s: %w: %v", op, domain.ErrTransient, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("qdrant %s: %w: %v", op, domain.ErrAuth, err)
	case codes.NotFound:
		return fmt.Errorf("qdrant %s: %w: %v", op, domain.ErrCollectionNotFound, err)
	case codes.Canceled:
		return fmt.Errorf("qdrant %s: %w: %v", op, context.Canceled, err)
	default:
		return fmt.Errorf("qdrant %s: %w", op, err)
	}
}

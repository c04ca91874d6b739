package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kalambet/vecdocs/internal/document"
)

// Compile-time check that QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)

// qdrantIDKey holds the caller's id in the payload; Qdrant point ids must be
// UUIDs or integers.
const qdrantIDKey = "_vecdocs_id"

// QdrantConfig addresses a Qdrant server's gRPC port.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore maps every index to a Qdrant collection.
type QdrantStore struct {
	client *qdrant.Client
}

// OpenQdrant connects to a Qdrant server.
func OpenQdrant(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	if _, err := client.HealthCheck(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

var qdrantDistances = map[Metric]qdrant.Distance{
	Cosine:     qdrant.Distance_Cosine,
	Euclidean:  qdrant.Distance_Euclid,
	DotProduct: qdrant.Distance_Dot,
}

func metricOf(d qdrant.Distance) Metric {
	for m, qd := range qdrantDistances {
		if qd == d {
			return m
		}
	}
	return Cosine
}

func (s *QdrantStore) CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return ErrInvalidDimension
	}
	metric, err := ParseMetric(string(metric))
	if err != nil {
		return err
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		dim, _, err := s.collection(ctx, name)
		if err != nil {
			return err
		}
		if dim != dimension {
			return fmt.Errorf("%w: index %s has dimension %d, requested %d", ErrDimensionMismatch, name, dim, dimension)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrantDistances[metric],
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		FieldName:      document.KeyDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("indexing %s in %s: %w", document.KeyDocumentID, name, err)
	}
	return nil
}

func (s *QdrantStore) DeleteIndex(ctx context.Context, name string) error {
	if _, _, err := s.collection(ctx, name); err != nil {
		return err
	}
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

func (s *QdrantStore) ListIndexes(ctx context.Context) ([]string, error) {
	names, err := s.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// collection returns the dimension and metric of a collection.
func (s *QdrantStore) collection(ctx context.Context, name string) (int, Metric, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return 0, "", fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return 0, "", fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, "", fmt.Errorf("describing collection %s: %w", name, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	return int(params.GetSize()), metricOf(params.GetDistance()), nil
}

func (s *QdrantStore) DescribeIndex(ctx context.Context, name string) (IndexStats, error) {
	dim, metric, err := s.collection(ctx, name)
	if err != nil {
		return IndexStats{}, err
	}
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return IndexStats{}, fmt.Errorf("counting points in %s: %w", name, err)
	}
	return IndexStats{Name: name, Dimension: dim, Metric: metric, Count: int(count)}, nil
}

func (s *QdrantStore) Upsert(ctx context.Context, index string, ids []string, vectors [][]float32, metadata []map[string]any) error {
	dim, _, err := s.collection(ctx, index)
	if err != nil {
		return err
	}
	if err := checkUpsert(ids, vectors, metadata, dim); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		payload, err := qdrantPayload(id, metadata[i])
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", id, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrantPointID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: index,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting into %s: %w", index, err)
	}
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, p QueryParams) ([]QueryResult, error) {
	dim, metric, err := s.collection(ctx, p.IndexName)
	if err != nil {
		return nil, err
	}
	if err := checkQuery(p, dim); err != nil {
		return nil, err
	}
	conds, err := p.Filter.Conditions()
	if err != nil {
		return nil, err
	}
	filter, err := qdrantFilter(conds)
	if err != nil {
		return nil, err
	}
	if p.TopK <= 0 {
		return []QueryResult{}, nil
	}

	if isZero(p.Vector) {
		return s.scroll(ctx, p, filter)
	}

	req := &qdrant.QueryPoints{
		CollectionName: p.IndexName,
		Query:          qdrant.NewQuery(p.Vector...),
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(p.TopK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(p.IncludeVector),
	}
	// Euclid scores are distances; the floor is applied after conversion.
	if p.MinScore != nil && metric != Euclidean {
		req.ScoreThreshold = qdrant.PtrOf(float32(*p.MinScore))
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", p.IndexName, err)
	}

	results := make([]QueryResult, 0, len(points))
	for _, pt := range points {
		score := float64(pt.GetScore())
		if metric == Euclidean {
			score = 1 / (1 + score)
		}
		if !passesMin(score, p.MinScore) {
			continue
		}
		r := qdrantResult(pt.GetId(), pt.GetPayload(), score)
		if p.IncludeVector {
			r.Vector = pt.GetVectors().GetVector().GetData()
		}
		results = append(results, r)
	}
	return results, nil
}

// scroll serves zero-vector queries: an unranked, filtered listing.
func (s *QdrantStore) scroll(ctx context.Context, p QueryParams, filter *qdrant.Filter) ([]QueryResult, error) {
	if !passesMin(0, p.MinScore) {
		return []QueryResult{}, nil
	}
	limit := uint32(min(p.TopK, math.MaxUint32))
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: p.IndexName,
		Filter:         filter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(p.IncludeVector),
	})
	if err != nil {
		return nil, fmt.Errorf("scrolling %s: %w", p.IndexName, err)
	}

	results := make([]QueryResult, 0, len(points))
	for _, pt := range points {
		r := qdrantResult(pt.GetId(), pt.GetPayload(), 0)
		if p.IncludeVector {
			r.Vector = pt.GetVectors().GetVector().GetData()
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *QdrantStore) DeleteVector(ctx context.Context, index, id string) error {
	if _, _, err := s.collection(ctx, index); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: index,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrantPointID(id)),
	})
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, index, err)
	}
	return nil
}

func (s *QdrantStore) UpdateVector(ctx context.Context, index, id string, vector []float32, metadata map[string]any) error {
	if vector == nil && metadata == nil {
		return ErrNothingToUpdate
	}
	dim, _, err := s.collection(ctx, index)
	if err != nil {
		return err
	}
	if vector != nil && len(vector) != dim {
		return fmt.Errorf("%w: vector %s has %d dimensions, index has %d", ErrDimensionMismatch, id, len(vector), dim)
	}

	pid := qdrantPointID(id)
	found, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: index,
		Ids:            []*qdrant.PointId{pid},
	})
	if err != nil {
		return fmt.Errorf("loading %s from %s: %w", id, index, err)
	}
	if len(found) == 0 {
		return fmt.Errorf("%w: %s in %s", ErrVectorNotFound, id, index)
	}

	if vector != nil {
		_, err := s.client.UpdateVectors(ctx, &qdrant.UpdatePointVectors{
			CollectionName: index,
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointVectors{{
				Id:      pid,
				Vectors: qdrant.NewVectors(vector...),
			}},
		})
		if err != nil {
			return fmt.Errorf("updating vector %s in %s: %w", id, index, err)
		}
	}
	if metadata != nil {
		payload, err := qdrantPayload(id, metadata)
		if err != nil {
			return fmt.Errorf("encoding payload for %s: %w", id, err)
		}
		_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: index,
			Wait:           qdrant.PtrOf(true),
			Payload:        payload,
			PointsSelector: qdrant.NewPointsSelector(pid),
		})
		if err != nil {
			return fmt.Errorf("updating payload of %s in %s: %w", id, index, err)
		}
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantPointID maps an id to a point id. UUIDs are used as is; anything
// else maps to a name-based UUID.
func qdrantPointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

// qdrantPayload converts metadata to a payload carrying the original id.
// Values are first reduced to JSON types; integral numbers stay integers.
func qdrantPayload(id string, metadata map[string]any) (map[string]*qdrant.Value, error) {
	plain, err := plainJSON(metadata)
	if err != nil {
		return nil, err
	}
	plain[qdrantIDKey] = id
	return qdrant.TryValueMap(plain)
}

func plainJSON(m map[string]any) (map[string]any, error) {
	b, err := json.Marshal(orEmpty(m))
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return numbersIn(out).(map[string]any), nil
}

func numbersIn(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = numbersIn(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbersIn(e)
		}
		return t
	default:
		return v
	}
}

func qdrantResult(pid *qdrant.PointId, payload map[string]*qdrant.Value, score float64) QueryResult {
	meta := make(map[string]any, len(payload))
	for k, v := range payload {
		meta[k] = fromQdrantValue(v)
	}
	id, _ := meta[qdrantIDKey].(string)
	delete(meta, qdrantIDKey)
	if id == "" {
		id = pid.GetUuid()
	}
	return QueryResult{ID: id, Score: score, Metadata: meta}
}

func fromQdrantValue(v *qdrant.Value) any {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_ListValue:
		vals := k.ListValue.GetValues()
		out := make([]any, len(vals))
		for i, e := range vals {
			out[i] = fromQdrantValue(e)
		}
		return out
	case *qdrant.Value_StructValue:
		fields := k.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for name, e := range fields {
			out[name] = fromQdrantValue(e)
		}
		return out
	default:
		return nil
	}
}

// qdrantFilter translates conditions into Must clauses. Qdrant matches
// keywords, integers and booleans exactly; fractional numbers cannot be
// matched and fail with ErrUnsupportedFilter.
func qdrantFilter(conds []Condition) (*qdrant.Filter, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	must := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		cond, err := qdrantCondition(c)
		if err != nil {
			return nil, err
		}
		must = append(must, cond)
	}
	return &qdrant.Filter{Must: must}, nil
}

func qdrantCondition(c Condition) (*qdrant.Condition, error) {
	var (
		keywords []string
		ints     []int64
		bools    []bool
	)
	for _, v := range c.Values {
		switch t := v.(type) {
		case string:
			keywords = append(keywords, t)
		case bool:
			bools = append(bools, t)
		case float64:
			if t != math.Trunc(t) || math.IsInf(t, 0) {
				return nil, fmt.Errorf("%w: %q matches a fractional number", ErrUnsupportedFilter, c.Key)
			}
			ints = append(ints, int64(t))
		}
	}

	switch {
	case len(keywords) == len(c.Values) && len(keywords) == 1:
		return qdrant.NewMatch(c.Key, keywords[0]), nil
	case len(keywords) == len(c.Values):
		return qdrant.NewMatchKeywords(c.Key, keywords...), nil
	case len(ints) == len(c.Values) && len(ints) == 1:
		return qdrant.NewMatchInt(c.Key, ints[0]), nil
	case len(ints) == len(c.Values):
		return qdrant.NewMatchInts(c.Key, ints...), nil
	case len(bools) == 1 && len(c.Values) == 1:
		return qdrant.NewMatchBool(c.Key, bools[0]), nil
	default:
		return nil, fmt.Errorf("%w: %q mixes value types", ErrUnsupportedFilter, c.Key)
	}
}

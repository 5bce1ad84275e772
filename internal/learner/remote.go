package learner

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/danielpatrickdp/activelearn/internal/example"
	"github.com/danielpatrickdp/activelearn/internal/stats"
)

// #region service
const (
	serviceName       = "activelearn.v1.BaseLearner"
	methodPredict     = "/" + serviceName + "/Predict"
	methodLearn       = "/" + serviceName + "/Learn"
	methodSensitivity = "/" + serviceName + "/Sensitivity"
)

// BaseLearnerServer is the server side of the remote learner service.
// Requests carry an encoded example; replies carry the prediction fields.
type BaseLearnerServer interface {
	Predict(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Learn(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
	Sensitivity(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

type callFunc func(BaseLearnerServer, context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call callFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BaseLearnerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BaseLearnerServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BaseLearnerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: unaryHandler(methodPredict, BaseLearnerServer.Predict)},
		{MethodName: "Learn", Handler: unaryHandler(methodLearn, BaseLearnerServer.Learn)},
		{MethodName: "Sensitivity", Handler: unaryHandler(methodSensitivity, BaseLearnerServer.Sensitivity)},
	},
	Metadata: "activelearn/v1/base_learner",
}

// #endregion service

// #region server
// Server exposes a local Learner over gRPC. Calls are serialized because the
// wrapped learner and its statistics are not safe for concurrent use.
type Server struct {
	mu    sync.Mutex
	base  Learner
	stats *stats.Running
}

// RegisterServer registers base on s. st receives the label range carried
// by each request so predictions clip the same way as on the client.
func RegisterServer(s *grpc.Server, base Learner, st *stats.Running) *Server {
	srv := &Server{base: base, stats: st}
	s.RegisterService(&serviceDesc, srv)
	return srv
}

// Predict serves a prediction.
func (s *Server) Predict(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return s.serve(in, func(ex *example.Example, offset int) (float64, error) {
		return 0, s.base.Predict(ex, offset)
	})
}

// Learn serves an update.
func (s *Server) Learn(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return s.serve(in, func(ex *example.Example, offset int) (float64, error) {
		return 0, s.base.Learn(ex, offset)
	})
}

// Sensitivity serves a sensitivity query.
func (s *Server) Sensitivity(_ context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return s.serve(in, s.base.Sensitivity)
}

func (s *Server) serve(in *wrapperspb.BytesValue, fn func(*example.Example, int) (float64, error)) (*structpb.Struct, error) {
	ex, offset, minLabel, maxLabel, err := decodeRequest(in.GetValue())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats != nil {
		s.stats.SetMinMax(minLabel)
		s.stats.SetMinMax(maxLabel)
	}
	sens, err := fn(ex, offset)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"prediction":         ex.Pred.Scalar,
		"partial_prediction": ex.PartialPrediction,
		"loss":               ex.Loss,
		"sensitivity":        sens,
	})
}

// #endregion server

// #region client
// invoker is the subset of *grpc.ClientConn used by Remote.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// Remote is a Learner backed by a BaseLearner gRPC service.
type Remote struct {
	conn    invoker
	closer  func() error
	stats   *stats.Running
	timeout time.Duration
}

var _ Learner = (*Remote)(nil)

// NewRemote connects to a BaseLearner service at addr.
func NewRemote(addr string, st *stats.Running, timeout time.Duration, opts ...grpc.DialOption) (*Remote, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Remote{conn: conn, closer: conn.Close, stats: st, timeout: timeout}, nil
}

// NewRemoteWithInvoker builds a Remote over an injected connection.
// Used for testing without a network.
func NewRemoteWithInvoker(conn invoker, st *stats.Running, timeout time.Duration) *Remote {
	return &Remote{conn: conn, stats: st, timeout: timeout}
}

// Close closes the underlying connection if Remote owns one.
func (r *Remote) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

// Predict asks the remote learner for a prediction.
func (r *Remote) Predict(ex *example.Example, offset int) error {
	reply, err := r.call(methodPredict, ex, offset)
	if err != nil {
		return err
	}
	applyReply(ex, reply)
	return nil
}

// Learn sends an update to the remote learner.
func (r *Remote) Learn(ex *example.Example, offset int) error {
	reply, err := r.call(methodLearn, ex, offset)
	if err != nil {
		return err
	}
	applyReply(ex, reply)
	return nil
}

// Sensitivity asks the remote learner for its sensitivity.
func (r *Remote) Sensitivity(ex *example.Example, offset int) (float64, error) {
	reply, err := r.call(methodSensitivity, ex, offset)
	if err != nil {
		return 0, err
	}
	return reply.GetFields()["sensitivity"].GetNumberValue(), nil
}

func (r *Remote) call(method string, ex *example.Example, offset int) (*structpb.Struct, error) {
	var minLabel, maxLabel float64
	if r.stats != nil {
		minLabel, maxLabel = r.stats.MinLabel, r.stats.MaxLabel
	}
	req := wrapperspb.Bytes(encodeRequest(ex, offset, minLabel, maxLabel))

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	reply := new(structpb.Struct)
	if err := r.conn.Invoke(ctx, method, req, reply); err != nil {
		return nil, fmt.Errorf("remote learner %s: %w", method, err)
	}
	return reply, nil
}

func applyReply(ex *example.Example, reply *structpb.Struct) {
	f := reply.GetFields()
	ex.Pred.Scalar = f["prediction"].GetNumberValue()
	ex.PartialPrediction = f["partial_prediction"].GetNumberValue()
	ex.Loss = f["loss"].GetNumberValue()
}

// #endregion client

// #region wire-encoding
// Request layout, little-endian: offset, label, weight, example_t,
// min_label, max_label (6 x 8 bytes), feature count (8 bytes), then
// (index uint64, value float64) pairs.
const requestHeader = 7 * 8

var errShortRequest = errors.New("remote learner: truncated request")

func encodeRequest(ex *example.Example, offset int, minLabel, maxLabel float64) []byte {
	buf := make([]byte, requestHeader+len(ex.Features)*16)
	put := func(i int, v float64) {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	put(0, float64(offset))
	put(1, ex.Simple.Label)
	put(2, ex.Weight)
	put(3, ex.ExampleT)
	put(4, minLabel)
	put(5, maxLabel)
	binary.LittleEndian.PutUint64(buf[48:], uint64(len(ex.Features)))
	off := requestHeader
	for _, f := range ex.Features {
		binary.LittleEndian.PutUint64(buf[off:], f.Index)
		binary.LittleEndian.PutUint64(buf[off+8:], math.Float64bits(f.Value))
		off += 16
	}
	return buf
}

func decodeRequest(b []byte) (*example.Example, int, float64, float64, error) {
	if len(b) < requestHeader {
		return nil, 0, 0, 0, errShortRequest
	}
	get := func(i int) float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	n := binary.LittleEndian.Uint64(b[48:])
	if uint64(len(b)-requestHeader) != n*16 {
		return nil, 0, 0, 0, errShortRequest
	}
	ex := &example.Example{
		Simple:   example.SimpleLabel{Label: get(1), Weight: get(2)},
		Weight:   get(2),
		ExampleT: get(3),
		Features: make([]example.Feature, n),
	}
	off := requestHeader
	for i := range ex.Features {
		ex.Features[i] = example.Feature{
			Index: binary.LittleEndian.Uint64(b[off:]),
			Value: math.Float64frombits(binary.LittleEndian.Uint64(b[off+8:])),
		}
		off += 16
	}
	return ex, int(get(0)), get(4), get(5), nil
}

// #endregion wire-encoding

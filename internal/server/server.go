// Package server implements the gRPC RowStore service
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/rowstore/internal/logger"
	"github.com/nainya/rowstore/pkg/dynamic"
	"github.com/nainya/rowstore/pkg/rowstore"
	"github.com/nainya/rowstore/pkg/schema"
)

// Server implements RowStoreServer on top of one open store.
// The store is goroutine-confined, so every handler holds mu.
type Server struct {
	mu    sync.Mutex
	store *rowstore.Store
	log   *logger.Logger

	startTime time.Time
	opCounts  map[string]int64
}

// NewServer creates a new gRPC server instance
func NewServer(store *rowstore.Store, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:     store,
		log:       log,
		startTime: time.Now(),
		opCounts:  make(map[string]int64),
	}
}

// Ready reports whether the store can serve requests
func (s *Server) Ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store.IsClosed() {
		return rowstore.ErrClosed
	}
	return nil
}

// ========== Schema Operations ==========

func (s *Server) ListTables(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts["ListTables"]++

	names := s.store.Tables()
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = name
	}
	return structpb.NewList(out)
}

// ========== Row Operations ==========

func (s *Server) ListRows(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts["ListRows"]++

	table := req.GetFields()["table"].GetStringValue()
	if table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}

	rows, err := s.store.Rows(table)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row.Index()
	}
	return structpb.NewList(out)
}

func (s *Server) GetRow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts["GetRow"]++

	table, index, err := rowRef(req)
	if err != nil {
		return nil, err
	}

	obj, err := dynamic.Open(s.store, table, index)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := obj.AsStruct()
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// PutRow assigns "fields" to row "row" of "table", creating a new row when
// "row" is absent. It returns the {"table", "row"} reference.
func (s *Server) PutRow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts["PutRow"]++

	fields := req.GetFields()
	table := fields["table"].GetStringValue()
	if table == "" {
		return nil, status.Error(codes.InvalidArgument, "table is required")
	}
	values := fields["fields"].GetStructValue().AsMap()

	var index int64
	_, update := fields["row"]
	if update {
		var err error
		if _, index, err = rowRef(req); err != nil {
			return nil, err
		}
	}

	var row rowstore.RowHandle
	err := s.store.Write(func() error {
		var obj *dynamic.Object
		var err error
		if update {
			obj, err = dynamic.Open(s.store, table, index)
		} else {
			row, err = s.store.CreateRow(table)
			if err == nil {
				obj, err = dynamic.Wrap(s.store, row)
			}
		}
		if err != nil {
			return err
		}
		row = obj.Row()
		return obj.Assign(values)
	})
	if err != nil {
		s.log.Warn("PutRow failed").Str("table", table).Err(err).Send()
		return nil, toStatus(err)
	}

	return structpb.NewStruct(map[string]any{
		"table": row.Table(),
		"row":   row.Index(),
	})
}

func (s *Server) DeleteRow(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opCounts["DeleteRow"]++

	table, index, err := rowRef(req)
	if err != nil {
		return nil, err
	}

	err = s.store.Write(func() error {
		row, err := s.store.OpenRow(table, index)
		if err != nil {
			return err
		}
		return s.store.DeleteRow(row)
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ========== Health & Stats ==========

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := make(map[string]any)
	for _, name := range s.store.Tables() {
		n, err := s.store.Count(name)
		if err != nil {
			return nil, toStatus(err)
		}
		tables[name] = n
	}

	ops := make(map[string]any, len(s.opCounts))
	for op, n := range s.opCounts {
		ops[op] = n
	}

	// Get database file size
	var dbSize int64
	if fileInfo, err := os.Stat(s.store.Path()); err == nil {
		dbSize = fileInfo.Size()
	}

	return structpb.NewStruct(map[string]any{
		"store_id":         s.store.ID(),
		"version":          s.store.Version(),
		"uptime_seconds":   int64(time.Since(s.startTime).Seconds()),
		"db_size_bytes":    dbSize,
		"rows":             tables,
		"operation_counts": ops,
	})
}

func rowRef(req *structpb.Struct) (string, int64, error) {
	fields := req.GetFields()
	table := fields["table"].GetStringValue()
	if table == "" {
		return "", 0, status.Error(codes.InvalidArgument, "table is required")
	}
	v, ok := fields["row"]
	if !ok {
		return "", 0, status.Error(codes.InvalidArgument, "row is required")
	}
	n := v.GetNumberValue()
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum || n < 0 || n != float64(int64(n)) {
		return "", 0, status.Errorf(codes.InvalidArgument, "row must be a non-negative integer, got %v", v.AsInterface())
	}
	return table, int64(n), nil
}

// toStatus maps store and accessor errors onto gRPC codes
func toStatus(err error) error {
	switch {
	case errors.Is(err, dynamic.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, dynamic.ErrIllegalState), errors.Is(err, rowstore.ErrStaleRow):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, rowstore.ErrTableNotFound),
		errors.Is(err, rowstore.ErrRowNotFound),
		errors.Is(err, schema.ErrEntityNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, rowstore.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, fmt.Sprintf("internal error: %v", err))
}

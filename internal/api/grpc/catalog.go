// Package grpc exposes a catalog over gRPC so that writers on different
// hosts can share one pointer store, and provides the matching client.
package grpc

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arkilian/strata/internal/catalog"
	strataerrors "github.com/arkilian/strata/internal/errors"
)

const serviceName = "strata.catalog.v1.CatalogService"

// TableRequest addresses one table. Location is the metadata location for
// CreateTable; Expected and Next are the two sides of a Commit.
type TableRequest struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Location  string `json:"location,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Next      string `json:"next,omitempty"`
}

func (r *TableRequest) ident() catalog.Identifier {
	return catalog.Identifier{Namespace: r.Namespace, Name: r.Name}
}

// TableResponse carries the result of a table call.
type TableResponse struct {
	Location string `json:"location,omitempty"`
	Exists   bool   `json:"exists,omitempty"`
}

// ListRequest selects a namespace.
type ListRequest struct {
	Namespace string `json:"namespace"`
}

// ListResponse lists tables.
type ListResponse struct {
	Tables []catalog.Identifier `json:"tables"`
}

// CatalogServer serves a local catalog backend.
type CatalogServer struct {
	backend catalog.Catalog
	logger  zerolog.Logger
}

// NewCatalogServer creates a server fronting backend.
func NewCatalogServer(backend catalog.Catalog, logger zerolog.Logger) *CatalogServer {
	return &CatalogServer{backend: backend, logger: logger}
}

// Register adds the catalog service to s.
func (s *CatalogServer) Register(r grpclib.ServiceRegistrar) {
	r.RegisterService(&catalogServiceDesc, s)
}

func (s *CatalogServer) CreateTable(ctx context.Context, req *TableRequest) (*TableResponse, error) {
	if req.Location == "" {
		return nil, status.Error(codes.InvalidArgument, "location is required")
	}
	if err := s.backend.CreateTable(ctx, req.ident(), req.Location); err != nil {
		return nil, s.toStatus(ctx, "create table", req, err)
	}
	return &TableResponse{Location: req.Location}, nil
}

func (s *CatalogServer) LoadTable(ctx context.Context, req *TableRequest) (*TableResponse, error) {
	loc, err := s.backend.LoadTable(ctx, req.ident())
	if err != nil {
		return nil, s.toStatus(ctx, "load table", req, err)
	}
	return &TableResponse{Location: loc}, nil
}

func (s *CatalogServer) Commit(ctx context.Context, req *TableRequest) (*TableResponse, error) {
	if req.Expected == "" || req.Next == "" {
		return nil, status.Error(codes.InvalidArgument, "expected and next are required")
	}
	if err := s.backend.Commit(ctx, req.ident(), req.Expected, req.Next); err != nil {
		return nil, s.toStatus(ctx, "commit", req, err)
	}
	return &TableResponse{Location: req.Next}, nil
}

func (s *CatalogServer) DropTable(ctx context.Context, req *TableRequest) (*TableResponse, error) {
	if err := s.backend.DropTable(ctx, req.ident()); err != nil {
		return nil, s.toStatus(ctx, "drop table", req, err)
	}
	return &TableResponse{}, nil
}

func (s *CatalogServer) TableExists(ctx context.Context, req *TableRequest) (*TableResponse, error) {
	ok, err := s.backend.TableExists(ctx, req.ident())
	if err != nil {
		return nil, s.toStatus(ctx, "table exists", req, err)
	}
	return &TableResponse{Exists: ok}, nil
}

func (s *CatalogServer) ListTables(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	tables, err := s.backend.ListTables(ctx, req.Namespace)
	if err != nil {
		return nil, s.toStatus(ctx, "list tables", &TableRequest{Namespace: req.Namespace}, err)
	}
	return &ListResponse{Tables: tables}, nil
}

// toStatus maps catalog errors to gRPC codes. Conflicts become Aborted,
// which clients treat as "re-read and retry".
func (s *CatalogServer) toStatus(ctx context.Context, op string, req *TableRequest, err error) error {
	code := codes.Internal
	switch strataerrors.GetCode(err) {
	case strataerrors.CodeCommitConflict:
		code = codes.Aborted
	case strataerrors.CodeTableNotFound:
		code = codes.NotFound
	case strataerrors.CodeTableExists:
		code = codes.AlreadyExists
	case strataerrors.CodeInvalidArgument:
		code = codes.InvalidArgument
	}
	ev := s.logger.Debug()
	if code == codes.Internal {
		ev = s.logger.Error()
	}
	ev.Err(err).
		Str("request_id", extractRequestID(ctx)).
		Str("op", op).
		Str("table", req.ident().String()).
		Msg("catalog request failed")
	return status.Error(code, err.Error())
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

func unaryHandler[Req any, Resp any](call func(*CatalogServer, context.Context, *Req) (*Resp, error), method string) grpclib.MethodDesc {
	return grpclib.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpclib.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*CatalogServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpclib.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var catalogServiceDesc = grpclib.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpclib.MethodDesc{
		unaryHandler((*CatalogServer).CreateTable, "CreateTable"),
		unaryHandler((*CatalogServer).LoadTable, "LoadTable"),
		unaryHandler((*CatalogServer).Commit, "Commit"),
		unaryHandler((*CatalogServer).DropTable, "DropTable"),
		unaryHandler((*CatalogServer).TableExists, "TableExists"),
		unaryHandler((*CatalogServer).ListTables, "ListTables"),
	},
	Streams: []grpclib.StreamDesc{},
}

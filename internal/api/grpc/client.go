package grpc

import (
	"context"
	"fmt"

	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/arkilian/strata/internal/catalog"
	strataerrors "github.com/arkilian/strata/internal/errors"
)

// RemoteCatalog is a catalog.Catalog backed by a CatalogServer.
type RemoteCatalog struct {
	conn  *grpclib.ClientConn
	owned bool
}

var _ catalog.Catalog = (*RemoteCatalog)(nil)

// Dial connects to a catalog server at addr without transport security.
func Dial(addr string, opts ...grpclib.DialOption) (*RemoteCatalog, error) {
	opts = append([]grpclib.DialOption{grpclib.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpclib.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("catalog client: dial %s: %w", addr, err)
	}
	return &RemoteCatalog{conn: conn, owned: true}, nil
}

// NewRemoteCatalog wraps an existing connection. Close leaves it open.
func NewRemoteCatalog(conn *grpclib.ClientConn) *RemoteCatalog {
	return &RemoteCatalog{conn: conn}
}

func (c *RemoteCatalog) invoke(ctx context.Context, method string, in, out interface{}) error {
	err := c.conn.Invoke(ctx, "/"+serviceName+"/"+method, in, out, grpclib.CallContentSubtype(codecName))
	return fromStatus(err)
}

func (c *RemoteCatalog) CreateTable(ctx context.Context, id catalog.Identifier, location string) error {
	return c.invoke(ctx, "CreateTable", &TableRequest{Namespace: id.Namespace, Name: id.Name, Location: location}, &TableResponse{})
}

func (c *RemoteCatalog) LoadTable(ctx context.Context, id catalog.Identifier) (string, error) {
	var out TableResponse
	if err := c.invoke(ctx, "LoadTable", &TableRequest{Namespace: id.Namespace, Name: id.Name}, &out); err != nil {
		return "", err
	}
	return out.Location, nil
}

func (c *RemoteCatalog) Commit(ctx context.Context, id catalog.Identifier, expected, next string) error {
	return c.invoke(ctx, "Commit", &TableRequest{Namespace: id.Namespace, Name: id.Name, Expected: expected, Next: next}, &TableResponse{})
}

func (c *RemoteCatalog) DropTable(ctx context.Context, id catalog.Identifier) error {
	return c.invoke(ctx, "DropTable", &TableRequest{Namespace: id.Namespace, Name: id.Name}, &TableResponse{})
}

func (c *RemoteCatalog) ListTables(ctx context.Context, namespace string) ([]catalog.Identifier, error) {
	var out ListResponse
	if err := c.invoke(ctx, "ListTables", &ListRequest{Namespace: namespace}, &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

func (c *RemoteCatalog) TableExists(ctx context.Context, id catalog.Identifier) (bool, error) {
	var out TableResponse
	if err := c.invoke(ctx, "TableExists", &TableRequest{Namespace: id.Namespace, Name: id.Name}, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *RemoteCatalog) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// fromStatus restores the error taxonomy from a gRPC status so callers
// classify remote failures the same way as local ones.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return strataerrors.NewInternalError("catalog rpc", err)
	}
	switch st.Code() {
	case codes.Aborted:
		return strataerrors.NewCommitConflict(st.Message(), err)
	case codes.NotFound:
		return strataerrors.NewValidationError(strataerrors.CodeTableNotFound, st.Message())
	case codes.AlreadyExists:
		return strataerrors.NewValidationError(strataerrors.CodeTableExists, st.Message())
	case codes.InvalidArgument:
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return strataerrors.NewStorageError(strataerrors.CodeDownloadFailed, "catalog unavailable", err)
	}
	return strataerrors.NewInternalError(st.Message(), err)
}

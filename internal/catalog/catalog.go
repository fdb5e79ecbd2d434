// Package catalog stores the one mutable piece of state of a table: the
// pointer to its current metadata file. Every commit is a single atomic
// compare-and-swap of that pointer; a swap that finds a different pointer
// than expected fails with a COMMIT_CONFLICT error and leaves the pointer
// unchanged.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	strataerrors "github.com/arkilian/strata/internal/errors"
)

// Catalog maps table identifiers to metadata locations.
type Catalog interface {
	// CreateTable registers a table whose first metadata file is at
	// metadataLocation. Fails with TABLE_EXISTS if the table is registered.
	CreateTable(ctx context.Context, ident Identifier, metadataLocation string) error

	// LoadTable returns the current metadata location of a table.
	LoadTable(ctx context.Context, ident Identifier) (string, error)

	// Commit swaps the pointer from expected to next. Returns a
	// COMMIT_CONFLICT error if the pointer is no longer expected.
	Commit(ctx context.Context, ident Identifier, expected, next string) error

	// DropTable removes the pointer. Table files are left in place.
	DropTable(ctx context.Context, ident Identifier) error

	// ListTables returns the tables of a namespace in name order.
	ListTables(ctx context.Context, namespace string) ([]Identifier, error)

	// TableExists reports whether the table is registered.
	TableExists(ctx context.Context, ident Identifier) (bool, error)

	// Close releases the catalog's resources.
	Close() error
}

// Identifier names a table within a namespace.
type Identifier struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// ParseIdentifier parses "namespace.name".
func ParseIdentifier(s string) (Identifier, error) {
	ns, name, ok := strings.Cut(s, ".")
	if !ok {
		return Identifier{}, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("table identifier %q must be namespace.name", s))
	}
	id := Identifier{Namespace: ns, Name: name}
	return id, id.Validate()
}

// Validate checks that both parts are non-empty simple names.
func (id Identifier) Validate() error {
	if !namePattern.MatchString(id.Namespace) || !namePattern.MatchString(id.Name) {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			fmt.Sprintf("invalid table identifier %q", id.String()))
	}
	return nil
}

func (id Identifier) String() string { return id.Namespace + "." + id.Name }

// Location returns the default table location under a warehouse root.
func (id Identifier) Location(warehouse string) string {
	warehouse = strings.TrimSuffix(warehouse, "/")
	if warehouse == "" {
		return id.Namespace + "/" + id.Name
	}
	return warehouse + "/" + id.Namespace + "/" + id.Name
}

func notFound(id Identifier) error {
	return strataerrors.NewValidationError(strataerrors.CodeTableNotFound,
		fmt.Sprintf("table %s does not exist", id)).
		WithDetails(map[string]interface{}{"table": id.String()})
}

func alreadyExists(id Identifier) error {
	return strataerrors.NewValidationError(strataerrors.CodeTableExists,
		fmt.Sprintf("table %s already exists", id)).
		WithDetails(map[string]interface{}{"table": id.String()})
}

func conflict(id Identifier, expected, actual string) error {
	return strataerrors.NewCommitConflict(
		fmt.Sprintf("table %s changed: expected %s, found %s", id, expected, actual), nil).
		WithDetails(map[string]interface{}{"table": id.String(), "expected": expected, "actual": actual})
}

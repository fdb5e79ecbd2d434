package schema

import (
	"fmt"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/pkg/types"
)

// Update accumulates schema changes against a base schema. Changes that
// would make existing data unreadable fail with SCHEMA_INCOMPATIBLE.
type Update struct {
	base         *Schema
	lastColumnID int
	fields       []Field
	protected    map[int]string
}

// NewUpdate starts an update from base. lastColumnID is the table's
// highest ever assigned field ID, which may exceed base.HighestFieldID()
// after drops.
func NewUpdate(base *Schema, lastColumnID int) *Update {
	fields := make([]Field, len(base.Fields))
	copy(fields, base.Fields)
	if h := base.HighestFieldID(); h > lastColumnID {
		lastColumnID = h
	}
	return &Update{
		base:         base,
		lastColumnID: lastColumnID,
		fields:       fields,
		protected:    make(map[int]string),
	}
}

// Protect marks field IDs that cannot be dropped, such as partition sources.
func (u *Update) Protect(reason string, ids ...int) *Update {
	for _, id := range ids {
		u.protected[id] = reason
	}
	return u
}

func (u *Update) index(name string) int {
	for i, f := range u.fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// AddColumn appends a new optional column with a fresh ID. Required
// columns cannot be added because existing files have no values for them.
func (u *Update) AddColumn(name string, typ types.Type, required bool, doc string) error {
	if name == "" {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "column name is empty")
	}
	if !typ.Valid() {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("unknown type %q", typ))
	}
	if u.index(name) >= 0 {
		return strataerrors.NewSchemaIncompatible(fmt.Sprintf("column %q already exists", name))
	}
	if required {
		return strataerrors.NewSchemaIncompatible(fmt.Sprintf("cannot add required column %q without a default", name))
	}
	u.lastColumnID++
	u.fields = append(u.fields, Field{ID: u.lastColumnID, Name: name, Type: typ, Doc: doc})
	return nil
}

// DeleteColumn removes a column. Its ID is retired, not reused.
func (u *Update) DeleteColumn(name string) error {
	i := u.index(name)
	if i < 0 {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("column %q does not exist", name))
	}
	id := u.fields[i].ID
	if reason, ok := u.protected[id]; ok {
		return strataerrors.NewSchemaIncompatible(fmt.Sprintf("cannot delete column %q: %s", name, reason))
	}
	for _, ident := range u.base.IdentifierFieldIDs {
		if ident == id {
			return strataerrors.NewSchemaIncompatible(fmt.Sprintf("cannot delete identifier column %q", name))
		}
	}
	u.fields = append(u.fields[:i], u.fields[i+1:]...)
	return nil
}

// RenameColumn changes a column's name, keeping its ID.
func (u *Update) RenameColumn(from, to string) error {
	i := u.index(from)
	if i < 0 {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("column %q does not exist", from))
	}
	if to == "" {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "column name is empty")
	}
	if j := u.index(to); j >= 0 && j != i {
		return strataerrors.NewSchemaIncompatible(fmt.Sprintf("cannot rename %q to %q: name already in use", from, to))
	}
	u.fields[i].Name = to
	return nil
}

// UpdateColumnType widens a column's type. Narrowing is rejected.
func (u *Update) UpdateColumnType(name string, typ types.Type) error {
	i := u.index(name)
	if i < 0 {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("column %q does not exist", name))
	}
	if !u.fields[i].Type.CanPromoteTo(typ) {
		return strataerrors.NewSchemaIncompatible(fmt.Sprintf("cannot change column %q from %s to %s", name, u.fields[i].Type, typ))
	}
	u.fields[i].Type = typ
	return nil
}

// MakeOptional relaxes a required column. The reverse is not allowed.
func (u *Update) MakeOptional(name string) error {
	i := u.index(name)
	if i < 0 {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("column %q does not exist", name))
	}
	for _, ident := range u.base.IdentifierFieldIDs {
		if ident == u.fields[i].ID {
			return strataerrors.NewSchemaIncompatible(fmt.Sprintf("identifier column %q must stay required", name))
		}
	}
	u.fields[i].Required = false
	return nil
}

// Apply returns the evolved schema and the new last column ID. The schema
// ID is left for the metadata builder to assign.
func (u *Update) Apply() (*Schema, int, error) {
	fields := make([]Field, len(u.fields))
	copy(fields, u.fields)
	out := &Schema{SchemaID: u.base.SchemaID, Fields: fields}
	for _, id := range u.base.IdentifierFieldIDs {
		out.IdentifierFieldIDs = append(out.IdentifierFieldIDs, id)
	}
	if err := out.Validate(); err != nil {
		return nil, 0, strataerrors.NewSchemaIncompatible(err.Error())
	}
	return out, u.lastColumnID, nil
}

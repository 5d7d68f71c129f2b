// Package schema implements the optional per-collection validator of
// §4.K: field presence/type checks, a unique constraint backed by a
// secondary index, and an opaque CHECK expression reusing the query
// executor's expression evaluator. A collection with no registered
// schema stays schema-less, exactly as before this package existed.
package schema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/deedb/deedb/pkg/exec"
	"github.com/deedb/deedb/pkg/index"
	"github.com/deedb/deedb/pkg/lang"
	"github.com/deedb/deedb/pkg/value"
)

// Field describes one constrained property of a schema.
type Field struct {
	Name       string
	NotNull    bool
	PrimaryKey bool // implies NotNull and Unique
	Unique     bool // enforced via the secondary index on (Collection, Name)
	// Type constrains the field to a single value.Kind, with Int widening
	// to satisfy a Float-typed field. A nil Type leaves the field
	// unconstrained.
	Type *value.Kind
}

// Schema is one collection's registered validation rules.
type Schema struct {
	Collection string
	Fields     []Field
	// Check is an opaque boolean expression evaluated against the
	// candidate row (post-assignment, for an update); a false or Null
	// result fails validation. Nil means no CHECK clause.
	Check lang.Expr
}

// Violation is the typed error §4.K requires: it names the collection,
// field, and rule that failed so callers can report something more
// specific than a bare string.
type Violation struct {
	Collection string
	Field      string
	Rule       string
	Detail     string
}

func (v *Violation) Error() string {
	if v.Field == "" {
		return fmt.Sprintf("schema: %s: %s: %s", v.Collection, v.Rule, v.Detail)
	}
	return fmt.Sprintf("schema: %s.%s: %s: %s", v.Collection, v.Field, v.Rule, v.Detail)
}

// Manager registers schemas per collection and validates rows against
// them. It implements exec.Validator, so an Engine wired with
// e.SetValidator(schemaManager) enforces every registered schema on
// every INSERT/UPDATE it runs.
type Manager struct {
	index *index.Manager

	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewManager returns a schema manager with no collections registered;
// every collection starts out schema-less. idx is consulted to confirm a
// field declared Unique/PrimaryKey has a matching secondary index.
func NewManager(idx *index.Manager) *Manager {
	return &Manager{index: idx, schemas: make(map[string]*Schema)}
}

// Register installs or replaces the schema for s.Collection. Every field
// marked Unique or PrimaryKey must already have a secondary index on that
// (collection, field) pair — schemas describe validation, they don't
// create the index themselves.
func (m *Manager) Register(s *Schema) error {
	for _, f := range s.Fields {
		if (f.Unique || f.PrimaryKey) && !m.hasIndex(s.Collection, f.Name) {
			return &Violation{Collection: s.Collection, Field: f.Name, Rule: "unique",
				Detail: "no secondary index registered for this field; CREATE UNIQUE INDEX first"}
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.Collection] = s
	return nil
}

// Drop returns collection to schema-less mode. Dropping an
// already-schema-less collection is a no-op.
func (m *Manager) Drop(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schemas, collection)
}

func (m *Manager) schemaFor(collection string) *Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemas[collection]
}

func (m *Manager) hasIndex(collection, field string) bool {
	_, ok := m.index.Lookup(collection, field)
	return ok
}

func (m *Manager) indexNameFor(collection, field string) (string, bool) {
	def, ok := m.index.Lookup(collection, field)
	if !ok {
		return "", false
	}
	return def.Name, true
}

// ValidateInsert implements exec.Validator.
func (m *Manager) ValidateInsert(collection string, props map[string]value.Value) error {
	s := m.schemaFor(collection)
	if s == nil {
		return nil
	}
	for _, f := range s.Fields {
		v, present := props[f.Name]
		if err := validateField(s.Collection, f, v, present); err != nil {
			return err
		}
		if (f.Unique || f.PrimaryKey) && present && !v.IsNull() {
			if err := m.checkUnique(s.Collection, f.Name, v); err != nil {
				return err
			}
		}
	}
	return m.checkConstraint(s, props)
}

// ValidateUpdate implements exec.Validator. before is read only to skip
// the unique check for a Unique/PrimaryKey field whose value the update
// leaves unchanged.
func (m *Manager) ValidateUpdate(collection string, before, after map[string]value.Value) error {
	s := m.schemaFor(collection)
	if s == nil {
		return nil
	}
	for _, f := range s.Fields {
		v, present := after[f.Name]
		if err := validateField(s.Collection, f, v, present); err != nil {
			return err
		}
		if (f.Unique || f.PrimaryKey) && present && !v.IsNull() {
			oldV, hadOld := before[f.Name]
			if hadOld && oldV.Equal(v) {
				continue // unchanged, nothing new to collide with
			}
			if err := m.checkUnique(s.Collection, f.Name, v); err != nil {
				return err
			}
		}
	}
	return m.checkConstraint(s, after)
}

// validateField enforces presence and type compatibility for one field.
func validateField(collection string, f Field, v value.Value, present bool) error {
	notNull := f.NotNull || f.PrimaryKey
	if !present || v.IsNull() {
		if notNull {
			return &Violation{Collection: collection, Field: f.Name, Rule: "not_null",
				Detail: "value is missing or null"}
		}
		return nil
	}
	if f.Type == nil {
		return nil
	}
	if v.Kind() == *f.Type {
		return nil
	}
	// Int widens to satisfy a Float-typed field.
	if *f.Type == value.KindFloat && v.Kind() == value.KindInt {
		return nil
	}
	return &Violation{Collection: collection, Field: f.Name, Rule: "type",
		Detail: fmt.Sprintf("expected %s, got %s", *f.Type, v.Kind())}
}

// checkUnique consults the secondary index backing a Unique/PrimaryKey
// field for an existing entity holding the same value. The index itself
// (pkg/index.Manager.OnInsert/OnUpdate) re-enforces this at the point the
// row is actually installed; this earlier check exists so a violation is
// reported as a typed schema Violation instead of the index's generic
// ErrUniqueViolation.
func (m *Manager) checkUnique(collection, field string, v value.Value) error {
	name, ok := m.indexNameFor(collection, field)
	if !ok {
		return nil // Register already required an index to exist; this guards a later DropIndex
	}
	ids, err := m.index.LookupEq(name, v)
	if err != nil && !errors.Is(err, index.ErrUnknownIndex) {
		return err
	}
	if len(ids) > 0 {
		return &Violation{Collection: collection, Field: field, Rule: "unique",
			Detail: fmt.Sprintf("value %s already exists", v.String())}
	}
	return nil
}

func (m *Manager) checkConstraint(s *Schema, row map[string]value.Value) error {
	if s.Check == nil {
		return nil
	}
	result, err := exec.EvalExpr(s.Check, row)
	if err != nil {
		return &Violation{Collection: s.Collection, Rule: "check", Detail: err.Error()}
	}
	b, ok := result.AsBool()
	if !ok || !b {
		return &Violation{Collection: s.Collection, Rule: "check", Detail: "CHECK expression evaluated to false"}
	}
	return nil
}
